package service

import (
	"sync"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

// ParticipantDirectory is the roster of remote participants. Every mutation
// notifies subscribers with the full roster in join order.
type ParticipantDirectory struct {
	self domain.UserID

	mu           sync.Mutex
	participants map[domain.UserID]domain.Participant
	order        []domain.UserID

	subs subscribers[[]domain.Participant]
}

func NewParticipantDirectory(self domain.UserID) *ParticipantDirectory {
	return &ParticipantDirectory{
		self:         self,
		participants: make(map[domain.UserID]domain.Participant),
	}
}

// Upsert adds p or replaces the stored entry, keeping its position. The
// local user is ignored.
func (d *ParticipantDirectory) Upsert(p domain.Participant) {
	if p.UserID == "" || p.UserID == d.self {
		return
	}
	d.mu.Lock()
	if _, ok := d.participants[p.UserID]; !ok {
		d.order = append(d.order, p.UserID)
	}
	d.participants[p.UserID] = p
	roster := d.snapshotLocked()
	d.mu.Unlock()

	d.subs.notify(roster)
}

func (d *ParticipantDirectory) Remove(userID domain.UserID) {
	d.mu.Lock()
	if _, ok := d.participants[userID]; !ok {
		d.mu.Unlock()
		return
	}
	delete(d.participants, userID)
	for i, id := range d.order {
		if id == userID {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
	roster := d.snapshotLocked()
	d.mu.Unlock()

	d.subs.notify(roster)
}

// SetMediaFlag records a participant's announced media state. Unknown
// participants are ignored.
func (d *ParticipantDirectory) SetMediaFlag(userID domain.UserID, kind domain.MediaKind, enabled bool) {
	d.mu.Lock()
	p, ok := d.participants[userID]
	if !ok || !kind.Valid() {
		d.mu.Unlock()
		return
	}
	if kind == domain.MediaAudio {
		p.AudioEnabled = enabled
	} else {
		p.VideoEnabled = enabled
	}
	d.participants[userID] = p
	roster := d.snapshotLocked()
	d.mu.Unlock()

	d.subs.notify(roster)
}

func (d *ParticipantDirectory) Get(userID domain.UserID) (domain.Participant, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.participants[userID]
	return p, ok
}

// Clear empties the roster and notifies subscribers once.
func (d *ParticipantDirectory) Clear() {
	d.mu.Lock()
	d.participants = make(map[domain.UserID]domain.Participant)
	d.order = nil
	d.mu.Unlock()

	d.subs.notify([]domain.Participant{})
}

func (d *ParticipantDirectory) Snapshot() []domain.Participant {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *ParticipantDirectory) snapshotLocked() []domain.Participant {
	roster := make([]domain.Participant, 0, len(d.order))
	for _, id := range d.order {
		roster = append(roster, d.participants[id])
	}
	return roster
}

func (d *ParticipantDirectory) Subscribe(fn func([]domain.Participant)) (unsubscribe func()) {
	return d.subs.add(fn)
}
