package telegraph

import (
	"fmt"
	"strconv"
	"strings"
)

// Component actions encoded in button custom ids.
const (
	ActionRole         = "role"
	ActionJoinGK       = "join_gk"
	ActionJoinOutfield = "join_outfield"
	ActionLeave        = "leave_lineup"
	ActionStartSearch  = "start_search"
	ActionStopSearch   = "stop_search"
	ActionChallenge    = "challenge"
	ActionAccept       = "accept_challenge"
	ActionRefuse       = "refuse_challenge"
	ActionCancel       = "cancel_challenge"
	ActionPick         = "pick"
)

// Actions carrying an argument, longest prefix first so "challenge_" does
// not shadow "accept_challenge_".
var argActions = []string{ActionAccept, ActionRefuse, ActionCancel, ActionChallenge, ActionPick, ActionRole}

// CustomID builds the custom id of an action with an optional argument.
func CustomID(action, arg string) string {
	if arg == "" {
		return action
	}
	return action + "_" + arg
}

// RoleID builds the custom id of a role button.
func RoleID(name string, side int) string {
	return CustomID(ActionRole, fmt.Sprintf("%d_%s", side, name))
}

// ParseCustomID splits a custom id into its action and argument. Unknown
// ids return an empty action.
func ParseCustomID(id string) (action, arg string) {
	switch id {
	case ActionJoinGK, ActionJoinOutfield, ActionLeave, ActionStartSearch, ActionStopSearch:
		return id, ""
	}
	for _, a := range argActions {
		if rest, ok := strings.CutPrefix(id, a+"_"); ok && rest != "" {
			return a, rest
		}
	}
	return "", ""
}

// ParseRoleArg decodes the argument of a role button.
func ParseRoleArg(arg string) (name string, side int, err error) {
	sideStr, name, ok := strings.Cut(arg, "_")
	if !ok || name == "" {
		return "", 0, fmt.Errorf("telegraph: malformed role id %q", arg)
	}
	side, err = strconv.Atoi(sideStr)
	if err != nil || (side != 1 && side != 2) {
		return "", 0, fmt.Errorf("telegraph: malformed role side %q", arg)
	}
	return name, side, nil
}
