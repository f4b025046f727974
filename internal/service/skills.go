package service

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Skill categories, in the order they render into the review prompt.
var skillCategories = []string{"languages", "frameworks", "patterns", "testing", "infra"}

// Skill is one predefined rule bundle loaded from disk.
type Skill struct {
	ID       string
	Category string
	Name     string
	Content  string
}

// SkillsCatalog holds the predefined skills, loaded eagerly at startup and
// immutable afterwards.
type SkillsCatalog struct {
	skills []Skill
}

// LoadSkillsCatalog reads <root>/predefined/<category>/<id>.md for every
// known category. A missing directory is an empty category, not an error.
func LoadSkillsCatalog(root string) (*SkillsCatalog, error) {
	var skills []Skill

	for _, category := range skillCategories {
		dir := filepath.Join(root, "predefined", category)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read skills dir %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("read skill %s: %w", entry.Name(), err)
			}
			content := string(raw)
			skills = append(skills, Skill{
				ID:       strings.TrimSuffix(entry.Name(), ".md"),
				Category: category,
				Name:     skillDisplayName(content, entry.Name()),
				Content:  content,
			})
		}
	}

	sort.Slice(skills, func(i, j int) bool {
		if skills[i].Category != skills[j].Category {
			return categoryRank(skills[i].Category) < categoryRank(skills[j].Category)
		}
		return skills[i].ID < skills[j].ID
	})

	slog.Info("skills catalog loaded", "count", len(skills))
	return &SkillsCatalog{skills: skills}, nil
}

// All returns the loaded skills.
func (c *SkillsCatalog) All() []Skill {
	return c.skills
}

// Prompt renders every skill grouped by category for the review prompt.
func (c *SkillsCatalog) Prompt() string {
	if len(c.skills) == 0 {
		return ""
	}

	var b strings.Builder
	current := ""
	for _, s := range c.skills {
		if s.Category != current {
			current = s.Category
			fmt.Fprintf(&b, "# %s\n\n", strings.ToUpper(current[:1])+current[1:])
		}
		b.WriteString(strings.TrimSpace(s.Content))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// CustomSkillsPrompt joins a repo's custom skills for the review prompt.
func CustomSkillsPrompt(skills []string) string {
	var parts []string
	for _, s := range skills {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	return strings.Join(parts, "\n\n")
}

// skillDisplayName takes the first "## " heading, falling back to the
// file name.
func skillDisplayName(content, filename string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "## "))
		}
	}
	return strings.TrimSuffix(filename, ".md")
}

func categoryRank(category string) int {
	for i, c := range skillCategories {
		if c == category {
			return i
		}
	}
	return len(skillCategories)
}
