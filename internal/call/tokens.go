package call

import (
	"log/slog"
	"time"

	"github.com/interchat-hq/interchat/internal/token"
	"github.com/interchat-hq/interchat/internal/transport"
)

// Routing tags for the interactive controls minted on call notices. The
// dispatch registry routes presses back here by (prefix, suffix).
const (
	TokenPrefix       = "call"
	TokenHangup       = "hangup"
	TokenSkip         = "skip"
	TokenReport       = "report"        // end-of-call report button, arg 0 = callID
	TokenReportSubmit = "report_submit" // report modal submit, arg 0 = callID
)

// ControlButtons are attached to the call-connected notice. They carry no
// arguments; the pressing channel identifies the call.
func ControlButtons() []transport.Button {
	return []transport.Button{
		button("Hang up", transport.ButtonDanger, token.New(TokenPrefix, TokenHangup)),
		button("Skip", transport.ButtonSecondary, token.New(TokenPrefix, TokenSkip)),
	}
}

// ReportButton is attached to end-of-call notices. validFor should match the
// call record's retention so the button dies with the evidence.
func ReportButton(callID string, validFor time.Duration) transport.Button {
	t := token.New(TokenPrefix, TokenReport, callID).WithExpiry(time.Now().Add(validFor))
	return button("Report", transport.ButtonSecondary, t)
}

func button(label string, style transport.ButtonStyle, t token.Token) transport.Button {
	encoded, err := token.Encode(t)
	if err != nil {
		slog.Error("encode call control token", "prefix", t.Prefix, "suffix", t.Suffix, "error", err)
		return transport.Button{Label: label, Token: "unroutable", Style: style, Disabled: true}
	}
	return transport.Button{Label: label, Token: encoded, Style: style}
}
