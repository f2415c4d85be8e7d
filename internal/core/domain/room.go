package domain

type Participant struct {
	ID       ParticipantID
	Identity string
	Room     RoomName
}

// Room keeps members in join order. Pairing is a protocol convention, the
// directory decides separately how many members it lets in.
type Room struct {
	Name    RoomName
	Members []ParticipantID
}

func NewRoom(name RoomName) *Room {
	return &Room{Name: name}
}

func (r *Room) Has(id ParticipantID) bool {
	for _, m := range r.Members {
		if m == id {
			return true
		}
	}
	return false
}

// Add reports false if id is already a member.
func (r *Room) Add(id ParticipantID) bool {
	if r.Has(id) {
		return false
	}
	r.Members = append(r.Members, id)
	return true
}

func (r *Room) Remove(id ParticipantID) bool {
	for i, m := range r.Members {
		if m == id {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) Empty() bool {
	return len(r.Members) == 0
}

// Others returns every member except id.
func (r *Room) Others(id ParticipantID) []ParticipantID {
	out := make([]ParticipantID, 0, len(r.Members))
	for _, m := range r.Members {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}
