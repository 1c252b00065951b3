package union

import "github.com/vkngwrapper/elysium/memutils"

// Builder2 creates Union2 values. Holding one proves both candidates passed the alignment check.
type Builder2[A Erasable[A], B Erasable[B]] struct {
	_ [0]func()
}

// NewBuilder2 checks that A and B leave room for the tag in their addresses
func NewBuilder2[A Erasable[A], B Erasable[B]]() (Builder2[A, B], error) {
	err := checkAlignment[A]()
	if err != nil {
		return Builder2[A, B]{}, err
	}

	err = checkAlignment[B]()
	if err != nil {
		return Builder2[A, B]{}, err
	}

	return Builder2[A, B]{}, nil
}

// MustBuilder2 is NewBuilder2, except a failure is sent to the fatal hook
func MustBuilder2[A Erasable[A], B Erasable[B]]() Builder2[A, B] {
	builder, err := NewBuilder2[A, B]()
	if err != nil {
		memutils.Fatal(err)
	}
	return builder
}

// A packs a into a union. Ownership of a moves into the union.
func (Builder2[A, B]) A(a A) Union2[A, B] {
	return Union2[A, B]{w: Pack(a.Erase(), TagA)}
}

// B packs b into a union. Ownership of b moves into the union.
func (Builder2[A, B]) B(b B) Union2[A, B] {
	return Union2[A, B]{w: Pack(b.Erase(), TagB)}
}

// Left packs a into a union whose other candidate is B
func Left[A Erasable[A], B Erasable[B]](a A) Union2[A, B] {
	return MustBuilder2[A, B]().A(a)
}

// Right packs b into a union whose other candidate is A
func Right[A Erasable[A], B Erasable[B]](b B) Union2[A, B] {
	return MustBuilder2[A, B]().B(b)
}

// Union2 holds one handle that is either an A or a B, in a single word
type Union2[A Erasable[A], B Erasable[B]] struct {
	w Word
}

// A returns the held value if it is an A. The returned handle does not own a reference and must
// not be released.
func (u Union2[A, B]) A() (A, bool) {
	p, ok := u.w.Unpack(TagA)
	if !ok {
		var zero A
		return zero, false
	}
	return unerase[A](p), true
}

// B returns the held value if it is a B. The returned handle does not own a reference and must not
// be released.
func (u Union2[A, B]) B() (B, bool) {
	p, ok := u.w.Unpack(TagB)
	if !ok {
		var zero B
		return zero, false
	}
	return unerase[B](p), true
}

// IntoA takes the held value out if it is an A. On success the union is consumed.
func (u Union2[A, B]) IntoA() (A, bool) {
	return u.A()
}

// IntoB takes the held value out if it is a B. On success the union is consumed.
func (u Union2[A, B]) IntoB() (B, bool) {
	return u.B()
}

func (u Union2[A, B]) IsA() bool { return u.w.Tag() == TagA }
func (u Union2[A, B]) IsB() bool { return u.w.Tag() == TagB }

func (u Union2[A, B]) Tag() Tag {
	return u.w.Tag()
}

func (u Union2[A, B]) Word() Word {
	return u.w
}

// PtrEq reports whether both unions hold the same candidate at the same address
func (u Union2[A, B]) PtrEq(other Union2[A, B]) bool {
	return u.w == other.w
}

// Clone returns a union holding a clone of the held value. Values without a Clone method are copied
// as is, unless they own a reference, in which case Clone panics.
func (u Union2[A, B]) Clone() Union2[A, B] {
	switch u.w.Tag() {
	case TagA:
		return Union2[A, B]{w: clone[A](u.w)}
	default:
		return Union2[A, B]{w: clone[B](u.w)}
	}
}

// Release releases the held value, if it has a Release method. Consumes the union.
func (u Union2[A, B]) Release() {
	switch u.w.Tag() {
	case TagA:
		release[A](u.w)
	default:
		release[B](u.w)
	}
}
