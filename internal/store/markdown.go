// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/database"
	"gopkg.in/yaml.v3"
)

// ImportMarkdown reads a personality sheet: YAML frontmatter with plain
// settings followed by the system prompt as the Markdown body. A non-empty
// body overrides a system_prompt key in the frontmatter.
func (s *Settings) ImportMarkdown(ctx context.Context, r io.Reader) (int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read personality sheet")
	}

	frontmatter, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return 0, goerr.Wrap(errors.Join(ErrInvalidRecord, err), "failed to split frontmatter")
	}

	values := map[string]string{}
	if frontmatter != "" {
		if err := yaml.Unmarshal([]byte(frontmatter), &values); err != nil {
			return 0, goerr.Wrap(errors.Join(ErrInvalidRecord, err), "failed to parse frontmatter")
		}
	}
	if body = strings.TrimSpace(body); body != "" {
		values[database.SettingSystemPrompt] = body
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := s.Set(ctx, k, values[k]); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// ExportMarkdown writes every setting as a personality sheet that
// ImportMarkdown reads back unchanged
func (s *Settings) ExportMarkdown(ctx context.Context, w io.Writer) error {
	values := s.All(ctx)
	prompt := values[database.SettingSystemPrompt]
	delete(values, database.SettingSystemPrompt)

	var buf bytes.Buffer
	buf.WriteString("---\n")
	if len(values) > 0 {
		frontmatter, err := yaml.Marshal(values)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal frontmatter")
		}
		buf.Write(frontmatter)
	}
	buf.WriteString("---\n\n")
	if prompt != "" {
		buf.WriteString(prompt)
		buf.WriteString("\n")
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return goerr.Wrap(err, "failed to write personality sheet")
	}
	return nil
}

// splitFrontmatter splits a sheet into frontmatter and body. Content without
// a leading delimiter is all body.
func splitFrontmatter(content string) (string, string, error) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "---") {
		return "", content, nil
	}

	lines := strings.Split(content, "\n")
	closing := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closing = i
			break
		}
	}
	if closing == -1 {
		return "", content, fmt.Errorf("frontmatter not properly closed")
	}

	frontmatter := strings.Join(lines[1:closing], "\n")
	body := ""
	if closing+1 < len(lines) {
		body = strings.Join(lines[closing+1:], "\n")
	}
	return frontmatter, body, nil
}
