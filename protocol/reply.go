package protocol

import (
	"strconv"
	"strings"
)

// Kind tags the shape of a Reply.
type Kind uint8

const (
	KindStatus  Kind = iota + 1 // +OK
	KindError                   // -ERR message
	KindInteger                 // :42
	KindBulk                    // $3\r\nfoo  or  $-1 (absent)
	KindArray                   // *2\r\n...  or  *-1 (absent)
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindError:
		return "error"
	case KindInteger:
		return "integer"
	case KindBulk:
		return "bulk"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Reply is one decoded reply. Only the field matching Kind is meaningful.
//
// A nil Bulk (KindBulk) or a nil Array (KindArray) means the server sent an
// absent value. An empty bulk string is a non-nil, zero length slice.
type Reply struct {
	Kind  Kind
	Str   string     // KindStatus
	Int   int64      // KindInteger
	Bulk  []byte     // KindBulk
	Array []Reply    // KindArray
	Err   *DataError // KindError
}

// StatusReply builds a status reply.
func StatusReply(s string) Reply {
	return Reply{Kind: KindStatus, Str: s}
}

// IntegerReply builds an integer reply.
func IntegerReply(n int64) Reply {
	return Reply{Kind: KindInteger, Int: n}
}

// BulkReply builds a bulk reply. A nil slice builds an absent bulk.
func BulkReply(b []byte) Reply {
	return Reply{Kind: KindBulk, Bulk: b}
}

// ArrayReply builds an array reply. A nil slice builds an absent array.
func ArrayReply(elems ...Reply) Reply {
	return Reply{Kind: KindArray, Array: elems}
}

// ErrorReply builds an error reply.
func ErrorReply(msg string) Reply {
	return Reply{Kind: KindError, Err: &DataError{Message: msg}}
}

// IsNil reports whether the reply is an absent bulk or an absent array.
func (r Reply) IsNil() bool {
	switch r.Kind {
	case KindBulk:
		return r.Bulk == nil
	case KindArray:
		return r.Array == nil
	}
	return false
}

// String renders the reply the way redis-cli does.
func (r Reply) String() string {
	var sb strings.Builder
	r.format(&sb, "")
	return sb.String()
}

func (r Reply) format(sb *strings.Builder, indent string) {
	switch r.Kind {
	case KindStatus:
		sb.WriteString(r.Str)
	case KindError:
		sb.WriteString("(error) ")
		sb.WriteString(r.Err.Message)
	case KindInteger:
		sb.WriteString("(integer) ")
		sb.WriteString(strconv.FormatInt(r.Int, 10))
	case KindBulk:
		if r.Bulk == nil {
			sb.WriteString("(nil)")
			return
		}
		sb.WriteString(strconv.Quote(string(r.Bulk)))
	case KindArray:
		if r.Array == nil {
			sb.WriteString("(nil)")
			return
		}
		if len(r.Array) == 0 {
			sb.WriteString("(empty array)")
			return
		}
		for i, elem := range r.Array {
			if i > 0 {
				sb.WriteString("\n")
				sb.WriteString(indent)
			}
			prefix := strconv.Itoa(i+1) + ") "
			sb.WriteString(prefix)
			elem.format(sb, indent+strings.Repeat(" ", len(prefix)))
		}
	default:
		sb.WriteString("(unknown)")
	}
}
