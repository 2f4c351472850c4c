package adapter

import "chatline/internal/message"

type OpKind int

const (
	Insert OpKind = iota + 1
	Delete
)

func (k OpKind) String() string {
	if k == Insert {
		return "insert"
	}
	return "delete"
}

// Op is one step of an edit script. Index refers to the list as it stands
// after all earlier ops were applied, so a script is replayed front to back.
type Op struct {
	Kind    OpKind
	Index   int
	Message message.Message // set for Insert
}

// Diff returns a shortest edit script from old to next (Myers). Two items
// are the same item only when every field is equal, so an edited message
// shows up as a delete plus an insert.
func Diff(old, next []message.Message) []Op {
	n, m := len(old), len(next)
	maxD := n + m
	if maxD == 0 {
		return nil
	}
	off := maxD
	v := make([]int, 2*maxD+2)
	var trace [][]int

search:
	for d := 0; d <= maxD; d++ {
		trace = append(trace, append([]int(nil), v...))
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[off+k-1] < v[off+k+1]) {
				x = v[off+k+1]
			} else {
				x = v[off+k-1] + 1
			}
			y := x - k
			for x < n && y < m && old[x].Equal(next[y]) {
				x++
				y++
			}
			v[off+k] = x
			if x >= n && y >= m {
				break search
			}
		}
	}

	// walk back from (n, m), collecting moves in reverse
	type move struct {
		kind OpKind // 0 = keep
		y    int
	}
	var moves []move
	x, y := n, m
	for d := len(trace) - 1; d >= 0; d-- {
		v := trace[d]
		k := x - y
		var prevK int
		if k == -d || (k != d && v[off+k-1] < v[off+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := v[off+prevK]
		prevY := prevX - prevK
		for x > prevX && y > prevY {
			moves = append(moves, move{})
			x--
			y--
		}
		if d > 0 {
			if x == prevX {
				moves = append(moves, move{kind: Insert, y: y - 1})
			} else {
				moves = append(moves, move{kind: Delete})
			}
		}
		x, y = prevX, prevY
	}

	var ops []Op
	pos := 0
	for i := len(moves) - 1; i >= 0; i-- {
		switch mv := moves[i]; mv.kind {
		case Insert:
			ops = append(ops, Op{Kind: Insert, Index: pos, Message: next[mv.y]})
			pos++
		case Delete:
			ops = append(ops, Op{Kind: Delete, Index: pos})
		default:
			pos++
		}
	}
	return ops
}

// Apply replays ops on a copy of list.
func Apply(list []message.Message, ops []Op) []message.Message {
	out := append([]message.Message(nil), list...)
	for _, op := range ops {
		switch op.Kind {
		case Insert:
			out = append(out, message.Message{})
			copy(out[op.Index+1:], out[op.Index:])
			out[op.Index] = op.Message
		case Delete:
			out = append(out[:op.Index], out[op.Index+1:]...)
		}
	}
	return out
}
