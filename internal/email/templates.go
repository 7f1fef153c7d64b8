package email

import (
	"fmt"
	"html"
	"strings"

	"verifmatos/internal/checklist"
	"verifmatos/internal/models"
)

type report struct {
	event    *models.Event
	progress checklist.Progress
	issues   []models.EventNode
	link     string
}

func newReport(event *models.Event, progress checklist.Progress, issues []models.EventNode, baseURL string) report {
	link := ""
	if baseURL != "" {
		link = fmt.Sprintf("%s/events/%d", baseURL, event.ID)
	}
	return report{event: event, progress: progress, issues: issues, link: link}
}

func (r report) subject() string {
	if len(r.issues) == 0 {
		return fmt.Sprintf("Verification complete: %s", r.event.Name)
	}
	return fmt.Sprintf("Verification complete: %s (%d problem(s))", r.event.Name, len(r.issues))
}

func (r report) date() string {
	if r.event.Date == nil {
		return "no date"
	}
	return r.event.Date.Format("2006-01-02")
}

func (r report) verifier() string {
	if r.event.VerifierName == "" {
		return "unknown"
	}
	return r.event.VerifierName
}

func (r report) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s (%s)\n", r.event.Name, r.date())
	fmt.Fprintf(&b, "Verifier: %s\n\n", r.verifier())
	fmt.Fprintf(&b, "Progress: %d%% (%d ok, %d problem, %d pending out of %d items)\n\n",
		r.progress.Percent, r.progress.OK, r.progress.Problem, r.progress.Pending, r.progress.Total)

	if len(r.issues) == 0 {
		b.WriteString("No problem was reported.\n")
	} else {
		b.WriteString("Problems:\n")
		for _, issue := range r.issues {
			fmt.Fprintf(&b, "- %s", issue.Name)
			if issue.Comment != "" {
				fmt.Fprintf(&b, ": %s", issue.Comment)
			}
			if issue.LastVerifierName != "" {
				fmt.Fprintf(&b, " (%s)", issue.LastVerifierName)
			}
			b.WriteString("\n")
		}
	}

	if r.link != "" {
		fmt.Fprintf(&b, "\nDetails: %s\n", r.link)
	}
	return b.String()
}

func (r report) html() string {
	var rows strings.Builder
	for _, issue := range r.issues {
		fmt.Fprintf(&rows, `
            <tr>
                <td>%s</td>
                <td>%s</td>
                <td>%s</td>
            </tr>`,
			html.EscapeString(issue.Name),
			html.EscapeString(issue.Comment),
			html.EscapeString(issue.LastVerifierName))
	}

	issues := `<p class="ok">No problem was reported.</p>`
	if len(r.issues) > 0 {
		issues = fmt.Sprintf(`
        <table>
            <tr><th>Item</th><th>Comment</th><th>Verifier</th></tr>%s
        </table>`, rows.String())
	}

	details := ""
	if r.link != "" {
		details = fmt.Sprintf(`<p><a class="cta-button" href="%s">Open the event</a></p>`, html.EscapeString(r.link))
	}

	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Verification report</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            line-height: 1.6;
            color: #333;
            max-width: 600px;
            margin: 0 auto;
            padding: 20px;
            background-color: #f8f9fa;
        }
        .container {
            background-color: white;
            padding: 40px;
            border-radius: 12px;
            box-shadow: 0 2px 10px rgba(0, 0, 0, 0.1);
        }
        .progress { font-size: 28px; font-weight: bold; color: #2d5e3e; }
        .ok { color: #2d5e3e; }
        table { width: 100%%; border-collapse: collapse; }
        th, td { text-align: left; padding: 6px; border-bottom: 1px solid #e9ecef; }
        .cta-button {
            display: inline-block;
            background-color: #2d5e3e;
            color: white;
            padding: 12px 24px;
            text-decoration: none;
            border-radius: 6px;
        }
    </style>
</head>
<body>
    <div class="container">
        <h2>%s</h2>
        <p>%s &middot; verified by %s</p>
        <p class="progress">%d%%</p>
        <p>%d ok, %d problem, %d pending out of %d items</p>
        %s
        %s
    </div>
</body>
</html>
`,
		html.EscapeString(r.event.Name),
		html.EscapeString(r.date()),
		html.EscapeString(r.verifier()),
		r.progress.Percent,
		r.progress.OK, r.progress.Problem, r.progress.Pending, r.progress.Total,
		issues,
		details,
	)
}
