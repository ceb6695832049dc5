package telegraph

import (
	"fmt"
	"strings"

	"github.com/zulandar/pitchside/internal/models"
)

// Color constants for embeds.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// SlotView is one filled or open slot shown in a message.
type SlotView struct {
	Role string
	User *models.UserRef
}

func (s SlotView) String() string {
	if s.User == nil {
		return fmt.Sprintf("**%s**: -", s.Role)
	}
	return fmt.Sprintf("**%s**: %s", s.Role, s.User.Name)
}

func sideLines(slots []SlotView) string {
	if len(slots) == 0 {
		return "-"
	}
	lines := make([]string, len(slots))
	for i, s := range slots {
		lines[i] = s.String()
	}
	return strings.Join(lines, "\n")
}

// SlotsOf returns the roles of side as slot views.
func SlotsOf(l *models.Lineup, side int) []SlotView {
	var out []SlotView
	for _, r := range l.RolesOnSide(side) {
		out = append(out, SlotView{Role: r.Name, User: r.Occupant()})
	}
	return out
}

// FormatLineup renders a lineup with the buttons matching its kind.
func FormatLineup(l *models.Lineup, searching bool) Message {
	title := l.Name
	if title == "" {
		title = "Lineup"
	}
	embed := Embed{
		Title: fmt.Sprintf("%s (%dv%d)", title, l.Size, l.Size),
		Color: ColorInfo,
	}
	switch l.Kind {
	case models.KindTeam:
		embed.Fields = []Field{{Name: "Roster", Value: sideLines(SlotsOf(l, models.SideA))}}
		if searching {
			embed.Body = "Searching for a team"
		}
	default:
		embed.Fields = []Field{
			{Name: "Side A", Value: sideLines(SlotsOf(l, models.SideA)), Short: true},
			{Name: "Side B", Value: sideLines(SlotsOf(l, models.SideB)), Short: true},
		}
		if l.IsDrafting {
			embed.Body = "Captains are picking"
		}
	}
	embed.Body = strings.TrimSpace(embed.Body + fmt.Sprintf("\n%d/%d signed", l.OccupiedCount(), l.RequiredPlayers()))

	var buttons []Button
	switch l.Kind {
	case models.KindCaptains:
		buttons = append(buttons,
			Button{CustomID: ActionJoinOutfield, Label: "Join", Style: StylePrimary},
			Button{CustomID: ActionJoinGK, Label: "Join as GK", Style: StyleSecondary},
		)
	default:
		for _, r := range l.Roles {
			label := r.Name
			if l.Kind == models.KindMix {
				label = fmt.Sprintf("%s %s", sideName(r.Side), r.Name)
			}
			style := StyleSuccess
			if !r.IsOpen() {
				style = StyleSecondary
			}
			buttons = append(buttons, Button{CustomID: RoleID(r.Name, r.Side), Label: label, Style: style})
		}
	}
	buttons = append(buttons, Button{CustomID: ActionLeave, Label: "Leave", Style: StyleDanger})
	if l.Kind == models.KindTeam {
		if searching {
			buttons = append(buttons, Button{CustomID: ActionStopSearch, Label: "Stop search", Style: StyleDanger})
		} else {
			buttons = append(buttons, Button{CustomID: ActionStartSearch, Label: "Search", Style: StylePrimary})
		}
	}
	if l.IsDrafting {
		for i := range buttons {
			buttons[i].Disabled = true
		}
	}
	return Message{Embeds: []Embed{embed}, Buttons: buttons}
}

func sideName(side int) string {
	if side == models.SideB {
		return "B"
	}
	return "A"
}

// FormatSearch announces a queue entry to other contexts.
func FormatSearch(entry models.QueueEntry, teamName string) Message {
	name := teamName
	if name == "" {
		name = entry.Snapshot.Name
	}
	kind := "team"
	if entry.Kind == models.KindMix {
		kind = "mix"
	}
	return Message{
		Embeds: []Embed{{
			Title: fmt.Sprintf("%s is looking for a %dv%d opponent", name, entry.Size, entry.Size),
			Body:  fmt.Sprintf("Region: %s\nType: %s", strings.ToUpper(entry.Region), kind),
			Color: ColorInfo,
			Fields: []Field{
				{Name: "Roster", Value: sideLines(snapshotSlots(entry.Snapshot, models.SideA))},
			},
		}},
		Buttons: []Button{{CustomID: CustomID(ActionChallenge, entry.ID), Label: "Challenge", Style: StylePrimary}},
	}
}

func snapshotSlots(s models.LineupSnapshot, side int) []SlotView {
	var out []SlotView
	for _, r := range s.Roles {
		if r.Side == side {
			out = append(out, SlotView{Role: r.Name, User: r.User})
		}
	}
	return out
}

// FormatChallengeReceived asks the challenged side to accept or refuse.
// A mix target cannot answer and gets no buttons.
func FormatChallengeReceived(ch models.Challenge, from string, answerable bool) Message {
	msg := Message{
		Embeds: []Embed{{
			Title: "Challenge received",
			Body:  fmt.Sprintf("%s challenged you (sent by %s)", from, ch.InitiatingUserName),
			Color: ColorWarning,
		}},
	}
	if answerable {
		msg.Buttons = []Button{
			{CustomID: CustomID(ActionAccept, ch.ID), Label: "Accept", Style: StyleSuccess},
			{CustomID: CustomID(ActionRefuse, ch.ID), Label: "Refuse", Style: StyleDanger},
		}
	}
	return msg
}

// FormatChallengeSent confirms a proposal to the initiating side.
func FormatChallengeSent(ch models.Challenge, to string) Message {
	return Message{
		Embeds: []Embed{{
			Title: "Challenge sent",
			Body:  fmt.Sprintf("Waiting for %s to answer", to),
			Color: ColorInfo,
		}},
		Buttons: []Button{{CustomID: CustomID(ActionCancel, ch.ID), Label: "Cancel", Style: StyleDanger}},
	}
}

// FormatText is a plain informational message.
func FormatText(format string, args ...interface{}) Message {
	return Message{Text: fmt.Sprintf(format, args...)}
}

// FormatMatchReady announces a match to one of its contexts.
func FormatMatchReady(lobbyName, password string, sideA, sideB []models.UserRef, host models.UserRef) Message {
	return Message{
		Text: "Match ready! Join the lobby below.",
		Embeds: []Embed{{
			Title: lobbyName,
			Body:  fmt.Sprintf("Lobby password: `%s`\nHost: %s", password, host.Name),
			Color: ColorSuccess,
			Fields: []Field{
				{Name: "Side A", Value: userLines(sideA), Short: true},
				{Name: "Side B", Value: userLines(sideB), Short: true},
			},
		}},
	}
}

func userLines(users []models.UserRef) string {
	if len(users) == 0 {
		return "-"
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Name
	}
	return strings.Join(names, "\n")
}

// FormatDraft shows the draft state with a pick button per pooled user when
// buttons is set.
func FormatDraft(turn models.UserRef, sideA, sideB []SlotView, pool []models.UserRef, buttons bool) Message {
	msg := Message{
		Embeds: []Embed{{
			Title: "Captains draft",
			Body:  fmt.Sprintf("%s, it's your turn to pick", turn.Name),
			Color: ColorWarning,
			Fields: []Field{
				{Name: "Side A", Value: sideLines(sideA), Short: true},
				{Name: "Side B", Value: sideLines(sideB), Short: true},
				{Name: "Available", Value: userLines(pool)},
			},
		}},
	}
	if buttons {
		for _, u := range pool {
			msg.Buttons = append(msg.Buttons, Button{CustomID: CustomID(ActionPick, u.ID), Label: u.Name, Style: StylePrimary})
		}
	}
	return msg
}
