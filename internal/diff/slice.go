package diff

// sliceInput adapts two slices plus key/equality functions to Input.
type sliceInput[T any, K comparable] struct {
	old, new []T
	key      func(T) K
	eq       func(a, b T) bool
}

func (s *sliceInput[T, K]) OldLen() int { return len(s.old) }
func (s *sliceInput[T, K]) NewLen() int { return len(s.new) }

func (s *sliceInput[T, K]) Same(oldPos, newPos int) bool {
	return s.key(s.old[oldPos]) == s.key(s.new[newPos])
}

func (s *sliceInput[T, K]) Equal(oldPos, newPos int) bool {
	return s.eq(s.old[oldPos], s.new[newPos])
}

func (s *sliceInput[T, K]) Payload(oldPos, newPos int) any {
	return s.new[newPos]
}

// Slices diffs two slices. Identity is determined by the key function;
// content equality by eq. The change payload delivered to receivers is the
// new element. Neither slice is mutated.
func Slices[T any, K comparable](old, new []T, key func(T) K, eq func(a, b T) bool, detectMoves bool) *Result {
	return Compute(&sliceInput[T, K]{old: old, new: new, key: key, eq: eq}, detectMoves)
}
