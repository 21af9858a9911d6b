package storage

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Page is skip/limit pagination as accepted by the list endpoints
type Page struct {
	Skip  int
	Limit int
}

func (p Page) normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}
