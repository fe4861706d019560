package login

import "fmt"

type State int

const (
	StateWaitLogin State = iota
	StateService
	StateWaitLogout
)

func (s State) String() string {
	switch s {
	case StateWaitLogin:
		return "wait_login"
	case StateService:
		return "service"
	case StateWaitLogout:
		return "wait_logout"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
