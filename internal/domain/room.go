package domain

type (
	RoomID   string
	RoomKind string
)

const (
	KindChat  RoomKind = "chat"
	KindVideo RoomKind = "video"
	KindWatch RoomKind = "watch"
	KindSing  RoomKind = "sing"
	KindChess RoomKind = "chess"
)

// Kinds lists every room kind the server knows about, in a stable order.
func Kinds() []RoomKind {
	return []RoomKind{KindChat, KindVideo, KindWatch, KindSing, KindChess}
}

func (k RoomKind) Valid() bool {
	switch k {
	case KindChat, KindVideo, KindWatch, KindSing, KindChess:
		return true
	}
	return false
}
