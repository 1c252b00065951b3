package union

import (
	"fmt"

	"github.com/vkngwrapper/elysium/memutils"
)

// Builder4 creates Union4 values. Holding one proves all four candidates passed the alignment check.
type Builder4[A Erasable[A], B Erasable[B], C Erasable[C], D Erasable[D]] struct {
	_ [0]func()
}

// NewBuilder4 checks that every candidate leaves room for the tag in its addresses
func NewBuilder4[A Erasable[A], B Erasable[B], C Erasable[C], D Erasable[D]]() (Builder4[A, B, C, D], error) {
	for _, check := range []func() error{checkAlignment[A], checkAlignment[B], checkAlignment[C], checkAlignment[D]} {
		err := check()
		if err != nil {
			return Builder4[A, B, C, D]{}, err
		}
	}

	return Builder4[A, B, C, D]{}, nil
}

// MustBuilder4 is NewBuilder4, except a failure is sent to the fatal hook
func MustBuilder4[A Erasable[A], B Erasable[B], C Erasable[C], D Erasable[D]]() Builder4[A, B, C, D] {
	builder, err := NewBuilder4[A, B, C, D]()
	if err != nil {
		memutils.Fatal(err)
	}
	return builder
}

func (Builder4[A, B, C, D]) A(a A) Union4[A, B, C, D] {
	return Union4[A, B, C, D]{w: Pack(a.Erase(), TagA)}
}

func (Builder4[A, B, C, D]) B(b B) Union4[A, B, C, D] {
	return Union4[A, B, C, D]{w: Pack(b.Erase(), TagB)}
}

func (Builder4[A, B, C, D]) C(c C) Union4[A, B, C, D] {
	return Union4[A, B, C, D]{w: Pack(c.Erase(), TagC)}
}

func (Builder4[A, B, C, D]) D(d D) Union4[A, B, C, D] {
	return Union4[A, B, C, D]{w: Pack(d.Erase(), TagD)}
}

// Union4 holds one handle that is an A, B, C or D, in a single word. Accessors return handles that
// do not own a reference, like Union2.
type Union4[A Erasable[A], B Erasable[B], C Erasable[C], D Erasable[D]] struct {
	w Word
}

func get[P Erasable[P]](w Word, tag Tag) (P, bool) {
	p, ok := w.Unpack(tag)
	if !ok {
		var zero P
		return zero, false
	}
	return unerase[P](p), true
}

func (u Union4[A, B, C, D]) A() (A, bool) { return get[A](u.w, TagA) }
func (u Union4[A, B, C, D]) B() (B, bool) { return get[B](u.w, TagB) }
func (u Union4[A, B, C, D]) C() (C, bool) { return get[C](u.w, TagC) }
func (u Union4[A, B, C, D]) D() (D, bool) { return get[D](u.w, TagD) }

func (u Union4[A, B, C, D]) IntoA() (A, bool) { return u.A() }
func (u Union4[A, B, C, D]) IntoB() (B, bool) { return u.B() }
func (u Union4[A, B, C, D]) IntoC() (C, bool) { return u.C() }
func (u Union4[A, B, C, D]) IntoD() (D, bool) { return u.D() }

func (u Union4[A, B, C, D]) IsA() bool { return u.w.Tag() == TagA }
func (u Union4[A, B, C, D]) IsB() bool { return u.w.Tag() == TagB }
func (u Union4[A, B, C, D]) IsC() bool { return u.w.Tag() == TagC }
func (u Union4[A, B, C, D]) IsD() bool { return u.w.Tag() == TagD }

func (u Union4[A, B, C, D]) Tag() Tag {
	return u.w.Tag()
}

func (u Union4[A, B, C, D]) Word() Word {
	return u.w
}

func (u Union4[A, B, C, D]) PtrEq(other Union4[A, B, C, D]) bool {
	return u.w == other.w
}

func (u Union4[A, B, C, D]) Clone() Union4[A, B, C, D] {
	switch u.w.Tag() {
	case TagA:
		return Union4[A, B, C, D]{w: clone[A](u.w)}
	case TagB:
		return Union4[A, B, C, D]{w: clone[B](u.w)}
	case TagC:
		return Union4[A, B, C, D]{w: clone[C](u.w)}
	case TagD:
		return Union4[A, B, C, D]{w: clone[D](u.w)}
	default:
		panic(fmt.Sprintf("invalid union tag: %s", u.w.Tag()))
	}
}

// Release releases the held value, if it has a Release method. Consumes the union.
func (u Union4[A, B, C, D]) Release() {
	switch u.w.Tag() {
	case TagA:
		release[A](u.w)
	case TagB:
		release[B](u.w)
	case TagC:
		release[C](u.w)
	case TagD:
		release[D](u.w)
	}
}
