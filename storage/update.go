package storage

// Update collects field-level operators for one atomic document
// update. Paths use "__" as segment separator, see FieldPath.
type Update struct {
	set  map[string]any
	inc  map[string]float64
	push map[string]any
}

// NewUpdate returns an empty update.
func NewUpdate() *Update {
	return &Update{}
}

// Set records a set operator for path.
func (u *Update) Set(path string, value any) *Update {
	if u.set == nil {
		u.set = make(map[string]any)
	}
	u.set[path] = value
	return u
}

// Inc records an increment operator for path. Increments on the same
// path accumulate.
func (u *Update) Inc(path string, delta float64) *Update {
	if u.inc == nil {
		u.inc = make(map[string]float64)
	}
	u.inc[path] += delta
	return u
}

// Push records a push operator appending value to the array at path.
func (u *Update) Push(path string, value any) *Update {
	if u.push == nil {
		u.push = make(map[string]any)
	}
	u.push[path] = value
	return u
}

// Sets returns the recorded set operators.
func (u *Update) Sets() map[string]any { return u.set }

// Incs returns the recorded increment operators.
func (u *Update) Incs() map[string]float64 { return u.inc }

// Pushes returns the recorded push operators.
func (u *Update) Pushes() map[string]any { return u.push }

// Empty reports whether the update carries no operators.
func (u *Update) Empty() bool {
	return len(u.set) == 0 && len(u.inc) == 0 && len(u.push) == 0
}
