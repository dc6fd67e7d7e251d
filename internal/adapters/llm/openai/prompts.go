package openai

import (
	"fmt"
	"strings"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

const defaultServiceOfferings = `1. Website Development:
   - Website builds on CMS platforms (WordPress, Shopify, Wix, GoDaddy and similar e-commerce systems). Custom builds only in ReactJS.
   - No custom framework work such as Laravel.
   - Only projects that build a website from scratch. Fixing or maintaining an existing site is NO MATCH.

2. Graphic Design:
   - Vector illustration, logo design, branding, brochures, flyers, banners, presentation decks.`

const defaultWritingStyle = `Write a professional freelance proposal for the given project.

Structure:
1. Open with one natural sentence tied to the client's main goal. No greeting.
2. Reference similar past work with outcome-based results.
3. Show you understand the client's needs without listing deliverables.
4. Close with a confident promise and a light risk reversal (revisions, collaboration).
5. Ask the two most relevant questions about the project.
6. After the bid write "Here's my previous related work according to your needs:" followed by one or two relevant portfolio links.
7. Finish with:
Regards,
{signature}

Tone: human, confident, clear. No hype, no corporate jargon.
Keep it within 80 words in short paragraphs. Plain text only: no markdown, no bold, links pasted as they are.`

type component struct {
	name         string
	budgetUSD    int
	timelineDays int
}

var baseComponents = []component{
	{name: "Website Design Development", budgetUSD: 1500, timelineDays: 14},
	{name: "Website Development Only", budgetUSD: 850, timelineDays: 12},
	{name: "Logo Design", budgetUSD: 50, timelineDays: 2},
	{name: "Custom Artwork", budgetUSD: 120, timelineDays: 2},
	{name: "Ecommerce Development", budgetUSD: 1750, timelineDays: 20},
	{name: "Ui Ux Design", budgetUSD: 350, timelineDays: 7},
	{name: "Vector Illustration", budgetUSD: 150, timelineDays: 5},
}

func matchSystemPrompt(prefs domain.BidPreferences) string {
	offerings := firstNonEmpty(prefs.ServiceOfferings, defaultServiceOfferings)
	return fmt.Sprintf(`You are a professional project analyst. Evaluate the following project details and decide whether the project matches our service offerings. Respond with only 'MATCH' or 'NO MATCH'. If you are not completely sure about the project details, respond with 'NO MATCH'.

Our Service Offerings:
%s

Only return 'MATCH' if the project description clearly fits these criteria. Otherwise, return 'NO MATCH'.`, offerings)
}

func matchUserPrompt(req ports.ScoreRequest) string {
	return fmt.Sprintf("Project Title: %s\nProject Description: %s\nMinimum Budget: %s\nMaximum Budget: %s\n",
		req.Title, req.Description, formatUSD(req.MinBudgetUSD), formatUSD(req.MaxBudgetUSD))
}

func recommendSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are an expert project analyst. Below are the base project components with their associated budget and timeline:\n")
	for _, c := range baseComponents {
		fmt.Fprintf(&b, "- %s: $%d, %d days\n", c.name, c.budgetUSD, c.timelineDays)
	}
	b.WriteString(`Set the deadline exactly as the deadline of the closest base component.

Using these as your baseline, analyze the client's budget range and adjust the recommended budget and deadline:
1. The recommended budget must always be greater than or equal to the client's minimum budget.
2. If the description includes more work than the client's maximum budget covers, you may propose a higher budget.
3. If the client's maximum budget is higher than the base budget, increase the recommendation proportionally but stay close to the base budget.
4. Keep the deadline close to the base timeline.
5. For very low client budget ranges (e.g. $10-$30), do not produce an unrealistically high budget.
6. Answer in the exact format:
   "Budget: <budget> USD, Deadline: <days> days"

No additional text should be included in the output.`)
	return b.String()
}

func recommendUserPrompt(req ports.ScoreRequest) string {
	return fmt.Sprintf("Project Title: %s\nProject Description: %s\nMinimum Budget: %s\nMaximum Budget: %s\n"+
		"OUTPUT SHOULD ONLY BE IN THE FORMAT 'Budget: <budget> USD, Deadline: <days> days'. DO NOT INCLUDE ANY EXTRA TEXT. "+
		"BUDGET SHOULD ALWAYS BE GREATER THAN THE CLIENT'S MINIMUM BUDGET.",
		req.Title, req.Description, formatUSD(req.MinBudgetUSD), formatUSD(req.MaxBudgetUSD))
}

// draftSystemPrompt fills {signature} in the writing style. The signature
// falls back to the session name.
func draftSystemPrompt(session domain.Session) string {
	prefs := session.Preferences
	style := firstNonEmpty(prefs.WritingStyle, defaultWritingStyle)
	signature := firstNonEmpty(prefs.Signature, session.Name)
	prompt := strings.ReplaceAll(style, "{signature}", signature)

	if links := strings.TrimSpace(prefs.PortfolioLinks); links != "" {
		prompt += "\n\nPortfolio LINKS:\n" + links + "\n"
	}
	return prompt
}

func draftUserPrompt(req ports.ScoreRequest) string {
	return fmt.Sprintf("Project Title: %s\nProject Description: %s\n", req.Title, req.Description)
}

func formatUSD(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
