package bot

import (
	"strconv"

	"github.com/zulandar/pitchside/internal/lineup"
	"github.com/zulandar/pitchside/internal/team"
	"github.com/zulandar/pitchside/internal/telegraph"
)

// Command names.
const (
	CmdHelp          = "help"
	CmdRegisterTeam  = "register_team"
	CmdDeleteTeam    = "delete_team"
	CmdSetupLineup   = "setup_lineup"
	CmdSetupMix      = "setup_mix"
	CmdSetupCaptains = "setup_captains"
	CmdDeleteLineup  = "delete_lineup"
	CmdStatus        = "status"
	CmdSearch        = "search"
	CmdStopSearch    = "stop_search"
	CmdAutoSearch    = "auto_search"
	CmdChallenges    = "challenges"
	CmdLeave         = "leave"
	CmdSignGuest     = "sign_guest"
	CmdClearRole     = "clear_role"
	CmdBan           = "ban"
	CmdUnban         = "unban"
	CmdLeaderboard   = "leaderboard"
)

var sizeChoices = func() []string {
	out := make([]string, 0, lineup.MaxSize)
	for i := 1; i <= lineup.MaxSize; i++ {
		out = append(out, strconv.Itoa(i))
	}
	return out
}()

var (
	optSize = telegraph.OptionSpec{Name: "size", Description: "Players per side", Kind: telegraph.OptionInteger, Required: true, Choices: sizeChoices}
	optRole = telegraph.OptionSpec{Name: "role", Description: "Position name, e.g. GK", Kind: telegraph.OptionString, Required: true}
	optSide = telegraph.OptionSpec{Name: "side", Description: "1 or 2 (mix lineups)", Kind: telegraph.OptionInteger}
	optUser = telegraph.OptionSpec{Name: "user", Description: "Player", Kind: telegraph.OptionUser, Required: true}
)

// Commands lists every command the bot answers.
func Commands() []telegraph.CommandSpec {
	return []telegraph.CommandSpec{
		{Name: CmdHelp, Description: "List commands"},
		{Name: CmdRegisterTeam, Description: "Register or update this server's team", AdminOnly: true, Options: []telegraph.OptionSpec{
			{Name: "name", Description: "Team name", Kind: telegraph.OptionString, Required: true},
			{Name: "region", Description: "Region", Kind: telegraph.OptionString, Required: true, Choices: team.Regions},
		}},
		{Name: CmdDeleteTeam, Description: "Delete this server's team and all its lineups", AdminOnly: true},
		{Name: CmdSetupLineup, Description: "Create a team lineup in this channel", AdminOnly: true, Options: []telegraph.OptionSpec{
			optSize,
			{Name: "visibility", Description: "Who can see the lineup when searching", Kind: telegraph.OptionString, Choices: []string{"public", "team"}},
			{Name: "auto_search", Description: "Search as soon as the lineup is full", Kind: telegraph.OptionBoolean},
			{Name: "name", Description: "Lineup name", Kind: telegraph.OptionString},
		}},
		{Name: CmdSetupMix, Description: "Create a mix lineup in this channel", AdminOnly: true, Options: []telegraph.OptionSpec{
			optSize,
			{Name: "name", Description: "Lineup name", Kind: telegraph.OptionString},
		}},
		{Name: CmdSetupCaptains, Description: "Create a captains pool in this channel", AdminOnly: true, Options: []telegraph.OptionSpec{
			optSize,
			{Name: "name", Description: "Lineup name", Kind: telegraph.OptionString},
		}},
		{Name: CmdDeleteLineup, Description: "Delete the lineup of this channel", AdminOnly: true},
		{Name: CmdStatus, Description: "Show the lineup of this channel"},
		{Name: CmdSearch, Description: "Search for an opponent"},
		{Name: CmdStopSearch, Description: "Stop searching"},
		{Name: CmdAutoSearch, Description: "Search automatically when the lineup is full", AdminOnly: true, Options: []telegraph.OptionSpec{
			{Name: "enabled", Description: "On or off", Kind: telegraph.OptionBoolean, Required: true},
		}},
		{Name: CmdChallenges, Description: "List teams you can challenge"},
		{Name: CmdLeave, Description: "Leave the lineup"},
		{Name: CmdSignGuest, Description: "Sign a guest or another player into a position", AdminOnly: true, Options: []telegraph.OptionSpec{
			optRole, optSide,
			{Name: "user", Description: "Player to sign (a guest when empty)", Kind: telegraph.OptionUser},
			{Name: "name", Description: "Guest display name", Kind: telegraph.OptionString},
		}},
		{Name: CmdClearRole, Description: "Empty a position", AdminOnly: true, Options: []telegraph.OptionSpec{optRole, optSide}},
		{Name: CmdBan, Description: "Ban a player from this server's lineups", AdminOnly: true, Options: []telegraph.OptionSpec{
			optUser,
			{Name: "reason", Description: "Reason", Kind: telegraph.OptionString},
			{Name: "hours", Description: "Duration in hours (permanent when empty)", Kind: telegraph.OptionInteger},
		}},
		{Name: CmdUnban, Description: "Lift a ban", AdminOnly: true, Options: []telegraph.OptionSpec{optUser}},
		{Name: CmdLeaderboard, Description: "Most games played", Options: []telegraph.OptionSpec{
			{Name: "page", Description: "Page number", Kind: telegraph.OptionInteger},
			{Name: "region", Description: "Region", Kind: telegraph.OptionString, Choices: team.Regions},
			{Name: "size", Description: "Lineup size", Kind: telegraph.OptionInteger},
			{Name: "server", Description: "Only this server", Kind: telegraph.OptionBoolean},
		}},
	}
}
