// Package format renders digests and alerts as Telegram HTML.
package format

import (
	"fmt"
	"html"
	"strings"
	"time"

	"digestd/internal/storage"
)

// Entry pairs an item with the project its source belongs to.
type Entry struct {
	Item    storage.StoredItem
	Project storage.Project
}

var digestTitles = map[string]map[string]string{
	"en": {
		storage.DigestMorning:  "🌅 Morning Digest",
		storage.DigestEvening:  "🌆 Evening Digest",
		storage.DigestWeekly:   "📅 Weekly Digest",
		storage.DigestMonthly:  "📆 Monthly Digest",
		storage.DigestOnDemand: "📋 Digest",
	},
	"ru": {
		storage.DigestMorning:  "🌅 Утренний дайджест",
		storage.DigestEvening:  "🌆 Вечерний дайджест",
		storage.DigestWeekly:   "📅 Недельный дайджест",
		storage.DigestMonthly:  "📆 Месячный дайджест",
		storage.DigestOnDemand: "📋 Дайджест",
	},
}

var itemIcons = map[string]string{
	storage.ItemIssue:       "🎫",
	storage.ItemEmail:       "📧",
	storage.ItemEvent:       "📅",
	storage.ItemMessage:     "💬",
	storage.ItemComment:     "💭",
	storage.ItemThreadReply: "↩️",
	storage.ItemMention:     "📢",
	storage.ItemArticle:     "📰",
}

// Digest renders the full digest message grouped by project. An empty item
// set renders the no-updates message.
func Digest(entries []Entry, digestType, lang string) string {
	lang = normalizeLang(lang)

	if len(entries) == 0 {
		return emptyMessage(lang)
	}

	// Group by project, preserving first-seen order.
	var order []string
	byProject := make(map[string][]Entry)
	projects := make(map[string]storage.Project)
	for _, e := range entries {
		if _, seen := byProject[e.Project.ID]; !seen {
			order = append(order, e.Project.ID)
		}
		byProject[e.Project.ID] = append(byProject[e.Project.ID], e)
		projects[e.Project.ID] = e.Project
	}

	var b strings.Builder
	b.WriteString(header(digestType, len(entries), lang))
	b.WriteString("\n\n")

	for _, projectID := range order {
		p := projects[projectID]
		fmt.Fprintf(&b, "%s <b>%s</b>\n\n", colorEmoji(p.Color), html.EscapeString(p.Name))
		for _, e := range byProject[projectID] {
			b.WriteString(formatItem(e.Item))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(footer(lang))
	return b.String()
}

// ErrorAlert renders a collector-failure notification.
func ErrorAlert(sourceName, errorKind, errorMessage, lang string) string {
	lang = normalizeLang(lang)

	title := map[string]string{
		"en": "⚠️ Collection error",
		"ru": "⚠️ Ошибка сбора данных",
	}[lang]

	return fmt.Sprintf("<b>%s</b>\n%s (%s)\n<i>%s</i>",
		title,
		html.EscapeString(sourceName),
		html.EscapeString(errorKind),
		html.EscapeString(errorMessage),
	)
}

func normalizeLang(lang string) string {
	if _, ok := digestTitles[lang]; !ok {
		return "en"
	}
	return lang
}

func header(digestType string, count int, lang string) string {
	title, ok := digestTitles[lang][digestType]
	if !ok {
		title = digestTitles[lang][storage.DigestOnDemand]
	}

	var countText string
	switch {
	case lang == "ru" && count == 1:
		countText = "1 обновление"
	case lang == "ru":
		countText = fmt.Sprintf("%d обновлений", count)
	case count == 1:
		countText = "1 update"
	default:
		countText = fmt.Sprintf("%d updates", count)
	}

	return fmt.Sprintf("<b>%s</b> (%s)", title, countText)
}

func emptyMessage(lang string) string {
	if lang == "ru" {
		return "✨ Нет новых обновлений"
	}
	return "✨ No new updates"
}

func footer(lang string) string {
	now := time.Now().UTC().Format("15:04")
	if lang == "ru" {
		return fmt.Sprintf("<i>Сгенерировано в %s</i>", now)
	}
	return fmt.Sprintf("<i>Generated at %s</i>", now)
}

func formatItem(item storage.StoredItem) string {
	icon, ok := itemIcons[item.Type]
	if !ok {
		icon = "📌"
	}

	title := item.Title
	if title == "" {
		title = "Untitled"
	}
	title = html.EscapeString(title)

	line := fmt.Sprintf("%s %s", icon, title)
	if item.URL != "" {
		line = fmt.Sprintf(`%s <a href="%s">%s</a>`, icon, item.URL, title)
	}

	if meta := itemMetadata(item); len(meta) > 0 {
		line += fmt.Sprintf("\n   <i>%s</i>", strings.Join(meta, " · "))
	}
	return line
}

// itemMetadata collects the short annotations shown under an item line.
func itemMetadata(item storage.StoredItem) []string {
	var meta []string
	content := item.Content

	if status, ok := content["status"].(string); ok && status != "" {
		meta = append(meta, html.EscapeString(status))
	}
	if priority, ok := content["priority"].(string); ok && priority != "" {
		meta = append(meta, html.EscapeString(priority))
	}
	if assignee, ok := content["assignee"].(string); ok && assignee != "" {
		meta = append(meta, html.EscapeString(assignee))
	}
	if sender, ok := content["sender"].(string); ok && sender != "" {
		meta = append(meta, "from "+html.EscapeString(sender))
	}
	return meta
}

func colorEmoji(color string) string {
	switch strings.ToLower(color) {
	case "red":
		return "🔴"
	case "orange":
		return "🟠"
	case "yellow":
		return "🟡"
	case "green":
		return "🟢"
	case "blue":
		return "🔵"
	case "purple":
		return "🟣"
	case "":
		return "📁"
	default:
		return "📁"
	}
}
