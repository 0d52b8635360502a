package provider

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

const (
	toolHeaderPrefix = "### "
	argumentsMarker  = "Arguments:"
	frontMatterFence = "---"
)

// SkillMetadata is the optional YAML front matter of a SKILL.md file.
type SkillMetadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

// ParseSkill parses the content of a SKILL.md file into its front matter and tools.
// Tool names are prefixed with skill.
//
// A tool is declared by a "### <name>" header, followed by its description and an optional
// "Arguments:" block of "- name (type, required|optional) - description" lines.
// Headers whose first word is all upper case are section headers, not tools.
func ParseSkill(skill string, content []byte) (SkillMetadata, []Tool, error) {
	meta, body, err := splitFrontMatter(content)
	if err != nil {
		return SkillMetadata{}, nil, fmt.Errorf("parsing front matter of skill '%s': %w", skill, err)
	}

	lines := strings.Split(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n")
	var tools []Tool

	for i := 0; i < len(lines); {
		line := strings.TrimSpace(lines[i])
		header, ok := strings.CutPrefix(line, toolHeaderPrefix)
		if !ok {
			i++
			continue
		}

		name := strings.TrimSpace(header)
		if name == "" || isSectionHeader(name) {
			i++
			continue
		}

		// Description runs until "Arguments:" or the next tool header.
		var desc []string
		j := i + 1
		for ; j < len(lines); j++ {
			l := strings.TrimSpace(lines[j])
			if strings.HasPrefix(l, toolHeaderPrefix) || l == argumentsMarker {
				break
			}
			if l != "" {
				desc = append(desc, l)
			}
		}

		var params []Parameter
		if j < len(lines) && strings.TrimSpace(lines[j]) == argumentsMarker {
			j++
			for ; j < len(lines); j++ {
				l := strings.TrimSpace(lines[j])
				if l == "" {
					continue
				}
				item, ok := strings.CutPrefix(l, "- ")
				if !ok {
					break
				}
				if p, ok := parseArgument(item); ok {
					params = append(params, p)
				}
			}
		}

		tools = append(tools, Tool{
			Name:         skill + "." + name,
			Description:  strings.Join(desc, " "),
			Provider:     skill,
			ProviderType: TypeSkill,
			Parameters:   params,
		})
		i = j
	}

	return meta, tools, nil
}

// isSectionHeader reports whether the first word of a header is all upper case, e.g. "### USAGE NOTES".
func isSectionHeader(header string) bool {
	first := strings.Fields(header)[0]
	hasLetter := false
	for _, r := range first {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

// parseArgument parses "name (type, required) - description".
// The older "name (type, required): description" form is accepted too.
func parseArgument(item string) (Parameter, bool) {
	name, rest, hasParens := strings.Cut(item, "(")
	if !hasParens {
		// "name - description" or "name: description" without a type.
		n, d, found := cutDescription(item)
		if !found {
			n = item
		}
		n = strings.TrimSpace(n)
		if n == "" {
			return Parameter{}, false
		}
		return Parameter{Name: n, Description: strings.TrimSpace(d), Type: "any"}, true
	}

	inner, after, closed := strings.Cut(rest, ")")
	if !closed {
		return Parameter{}, false
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return Parameter{}, false
	}

	_, desc, _ := cutDescription(after)

	return Parameter{
		Name:        name,
		Description: strings.TrimSpace(desc),
		Required:    strings.Contains(inner, "required"),
		Type:        argumentType(inner),
	}, true
}

func cutDescription(s string) (before, after string, found bool) {
	if b, a, ok := strings.Cut(s, " - "); ok {
		return b, a, true
	}
	if b, a, ok := strings.Cut(s, ":"); ok {
		return b, a, true
	}
	if b, a, ok := strings.Cut(strings.TrimSpace(s), "- "); ok && strings.TrimSpace(b) == "" {
		return b, a, true
	}
	return s, "", false
}

var argumentTypes = []string{"string", "number", "boolean", "array", "object"}

// argumentType returns the first recognized type named inside the parentheses, or "any".
func argumentType(inner string) string {
	for _, field := range strings.FieldsFunc(inner, func(r rune) bool { return r == ',' || unicode.IsSpace(r) }) {
		for _, t := range argumentTypes {
			if strings.EqualFold(field, t) {
				return t
			}
		}
	}
	return "any"
}

// splitFrontMatter separates a leading "---" YAML block from the markdown body.
func splitFrontMatter(content []byte) (SkillMetadata, []byte, error) {
	var meta SkillMetadata

	trimmed := bytes.TrimPrefix(content, []byte("\ufeff"))
	if !bytes.HasPrefix(trimmed, []byte(frontMatterFence+"\n")) && !bytes.HasPrefix(trimmed, []byte(frontMatterFence+"\r\n")) {
		return meta, content, nil
	}

	rest := trimmed[bytes.IndexByte(trimmed, '\n')+1:]
	end := bytes.Index(rest, []byte("\n"+frontMatterFence))
	if end < 0 {
		return meta, content, nil
	}

	if err := yaml.Unmarshal(rest[:end], &meta); err != nil {
		return meta, nil, err
	}

	body := rest[end+len(frontMatterFence)+1:]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}

	return meta, body, nil
}
