package server

import "strings"

// Result steers the event loop after a callback returns. Values can be
// combined with With; the loop decodes them with a fixed priority:
// StopServer, then CloseClient, then Handled/Continue, then Default.
type Result uint8

const (
	Default     Result = 0
	CloseClient Result = 1 << (iota - 1)
	StopServer
	Handled
	Continue
	DeleteSelf
)

func (r Result) With(others ...Result) Result {
	for _, o := range others {
		r |= o
	}
	return r
}

func (r Result) Has(flag Result) bool {
	return flag != Default && r&flag == flag
}

// StopsServer is true for StopServer and DeleteSelf.
func (r Result) StopsServer() bool {
	return r.Has(StopServer) || r.Has(DeleteSelf)
}

func (r Result) ClosesClient() bool {
	return r.Has(CloseClient)
}

// Skips reports that the callback consumed the event itself.
func (r Result) Skips() bool {
	return r.Has(Handled)
}

// Keeps reports that the client stays even when the default policy would
// drop it.
func (r Result) Keeps() bool {
	return r.Has(Continue)
}

func (r Result) DeletesSelf() bool {
	return r.Has(DeleteSelf)
}

// verdict is what the loop does with a decoded Result.
type verdict int

const (
	verdictDefault verdict = iota
	verdictHandled
	verdictClose
	verdictStop
)

func (r Result) verdict() verdict {
	switch {
	case r.StopsServer():
		return verdictStop
	case r.ClosesClient():
		return verdictClose
	case r.Skips() || r.Keeps():
		return verdictHandled
	default:
		return verdictDefault
	}
}

func (r Result) String() string {
	if r == Default {
		return "DEFAULT"
	}
	var names []string
	for _, item := range []struct {
		flag Result
		name string
	}{
		{CloseClient, "CLOSE_CLIENT"},
		{StopServer, "STOP_SERVER"},
		{Handled, "HANDLED"},
		{Continue, "CONTINUE"},
		{DeleteSelf, "DELETE_SELF"},
	} {
		if r.Has(item.flag) {
			names = append(names, item.name)
		}
	}
	return strings.Join(names, "|")
}
