package models

// Caller is whoever asks the gateway to do something
// Staff and System callers may manage tokens; anybody may redeem
type Caller struct {
	ID     string
	Staff  bool
	System bool
}

var (
	AnonymousCaller = Caller{}
	SystemCaller    = Caller{ID: "system", System: true}
)

func (c Caller) Anonymous() bool {
	return c.ID == ""
}
