package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BranchPrefix is prepended to every task branch name.
const BranchPrefix = "apex/"

// NewID generates a task id: task_<millisecond-timestamp>_<random>.
func NewID() string {
	return fmt.Sprintf("task_%d_%s", time.Now().UnixMilli(), randomSuffix())
}

// NewCheckpointID generates a checkpoint id: cp_<millisecond-timestamp>_<random>.
func NewCheckpointID() string {
	return fmt.Sprintf("cp_%d_%s", time.Now().UnixMilli(), randomSuffix())
}

// NewTemplateID generates a template id: template_<millisecond-timestamp>_<random>.
func NewTemplateID() string {
	return fmt.Sprintf("template_%d_%s", time.Now().UnixMilli(), randomSuffix())
}

// IdleTaskID derives an idle task id from its title: idle-<kebab-title>.
func IdleTaskID(title string) string {
	return "idle-" + Slugify(title)
}

// BranchName derives the git branch for a task from its description.
func BranchName(description string) string {
	slug := Slugify(description)
	if slug == "" {
		slug = randomSuffix()
	}
	return BranchPrefix + slug
}

func randomSuffix() string {
	return uuid.New().String()[:8]
}

// maxSlugLen bounds slugs so branch names stay readable.
const maxSlugLen = 48

// Slugify lowercases the input and replaces every non-alphanumeric run with a
// single hyphen, trimming to maxSlugLen at a hyphen boundary when possible.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) <= maxSlugLen {
		return slug
	}

	slug = slug[:maxSlugLen]
	if i := strings.LastIndexByte(slug, '-'); i > 0 {
		slug = slug[:i]
	}
	return strings.TrimSuffix(slug, "-")
}
