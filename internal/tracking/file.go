package tracking

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"bmadloop/internal/domain"
	"bmadloop/internal/errs"
)

const sprintStatusKey = "development_status"

var (
	statusLinePattern = regexp.MustCompile(`(?mi)^(status:\s*)(.+)$`)
	taskLinePattern   = regexp.MustCompile(`^\s*- \[([ xX])\]\s*(.*)$`)
)

// FileStore reads and writes tracking state from the sprint artifacts
// directory: one markdown file per story plus the sprint-status YAML file.
type FileStore struct {
	sprintPath string
	storyDir   string
}

// NewFileStore creates a store over the given sprint record file and
// story directory.
func NewFileStore(sprintPath, storyDir string) *FileStore {
	return &FileStore{sprintPath: sprintPath, storyDir: storyDir}
}

// StoryFilePath returns the path of the story file for an identifier, or
// empty string when no matching file exists. Story files are named after
// the full record key ("5-2-user-auth.md"), so the lookup globs on the
// "epic-seq" prefix.
func (s *FileStore) StoryFilePath(id domain.StoryID) string {
	exact := filepath.Join(s.storyDir, id.String()+".md")
	if _, err := os.Stat(exact); err == nil {
		return exact
	}
	matches, err := filepath.Glob(filepath.Join(s.storyDir, id.String()+"-*.md"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

// ReadStory loads a story's tracking record. A story whose file is missing
// is still returned, with FileExists false, so verification can report the
// absence as a check failure rather than an error.
func (s *FileStore) ReadStory(id domain.StoryID) (*domain.Story, error) {
	story := &domain.Story{ID: id, Key: id.String(), Status: domain.StatusBacklog}

	path := s.StoryFilePath(id)
	if path == "" {
		return story, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.EStoreCorrupt, fmt.Sprintf("reading story file %s", path), err)
	}

	story.FilePath = path
	story.FileExists = true
	story.Key = strings.TrimSuffix(filepath.Base(path), ".md")
	parseStoryContent(story, string(data))
	return story, nil
}

// WriteStory persists a story's status and task checkboxes back into its
// file. The write is atomic: a temp file in the same directory is renamed
// over the target.
func (s *FileStore) WriteStory(story *domain.Story) error {
	path := story.FilePath
	if path == "" {
		path = filepath.Join(s.storyDir, story.Key+".md")
	}

	var content string
	if data, err := os.ReadFile(path); err == nil {
		content = string(data)
	} else if !os.IsNotExist(err) {
		return errs.Wrap(errs.EPersistFailed, fmt.Sprintf("reading story file %s", path), err)
	}

	content = renderStoryContent(story, content)
	if err := writeFileAtomic(path, []byte(content)); err != nil {
		return errs.Wrap(errs.EPersistFailed, fmt.Sprintf("writing story file %s", path), err)
	}
	story.FilePath = path
	story.FileExists = true
	return nil
}

// ReadSprintRecord loads the development status mapping, preserving the
// entry order of the YAML file.
func (s *FileStore) ReadSprintRecord() (*SprintRecord, error) {
	data, err := os.ReadFile(s.sprintPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Newf(errs.ENotFound, "sprint record not found at %s", s.sprintPath)
		}
		return nil, errs.Wrap(errs.EStoreCorrupt, "reading sprint record", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.EStoreCorrupt, "parsing sprint record", err)
	}
	status := mappingValue(&doc, sprintStatusKey)
	if status == nil || status.Kind != yaml.MappingNode {
		return nil, errs.Newf(errs.EStoreCorrupt, "sprint record missing %s mapping", sprintStatusKey)
	}

	rec := NewSprintRecord()
	for i := 0; i+1 < len(status.Content); i += 2 {
		key := status.Content[i].Value
		rec.Set(key, domain.StoryStatus(status.Content[i+1].Value))
	}
	return rec, nil
}

// WriteSprintRecord persists the mapping back into the sprint record file,
// updating the existing document in place so unrelated keys and comments
// survive. The write is atomic.
func (s *FileStore) WriteSprintRecord(rec *SprintRecord) error {
	var doc yaml.Node
	if data, err := os.ReadFile(s.sprintPath); err == nil {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return errs.Wrap(errs.EStoreCorrupt, "parsing sprint record", err)
		}
	} else if !os.IsNotExist(err) {
		return errs.Wrap(errs.EPersistFailed, "reading sprint record", err)
	}

	if doc.Kind == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	status := mappingValue(&doc, sprintStatusKey)
	if status == nil {
		root := doc.Content[0]
		status = &yaml.Node{Kind: yaml.MappingNode}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: sprintStatusKey},
			status,
		)
	}

	status.Content = status.Content[:0]
	for _, key := range rec.Keys() {
		value, _ := rec.Get(key)
		status.Content = append(status.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: string(value)},
		)
	}

	var buf strings.Builder
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return errs.Wrap(errs.EPersistFailed, "encoding sprint record", err)
	}
	if err := enc.Close(); err != nil {
		return errs.Wrap(errs.EPersistFailed, "encoding sprint record", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.sprintPath), 0755); err != nil {
		return errs.Wrap(errs.EPersistFailed, "creating sprint record directory", err)
	}
	if err := writeFileAtomic(s.sprintPath, []byte(buf.String())); err != nil {
		return errs.Wrap(errs.EPersistFailed, "writing sprint record", err)
	}
	return nil
}

// mappingValue returns the value node for a top-level mapping key.
func mappingValue(doc *yaml.Node, key string) *yaml.Node {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			return root.Content[i+1]
		}
	}
	return nil
}

// parseStoryContent fills status, tasks, and requirements from the story
// file's markdown.
func parseStoryContent(story *domain.Story, content string) {
	if m := statusLinePattern.FindStringSubmatch(content); m != nil {
		story.Status = normalizeStatus(m[2])
	}

	inTasks := false
	inRequirements := false
	var requirements []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "#") {
			heading := strings.ToLower(strings.TrimLeft(line, "# "))
			inTasks = strings.HasPrefix(heading, "tasks")
			inRequirements = strings.HasPrefix(heading, "requirements") ||
				strings.HasPrefix(heading, "acceptance criteria")
			continue
		}
		if inRequirements {
			requirements = append(requirements, line)
		}
		// Checkboxes outside an explicit Tasks section still count as tasks.
		if m := taskLinePattern.FindStringSubmatch(line); m != nil && (inTasks || !inRequirements) {
			story.Tasks = append(story.Tasks, domain.Task{
				Text: strings.TrimSpace(m[2]),
				Done: m[1] != " ",
			})
		}
	}
	story.Requirements = strings.TrimSpace(strings.Join(requirements, "\n"))
}

// renderStoryContent applies the story's status and task states to existing
// file content, or produces a minimal story file when there is none.
func renderStoryContent(story *domain.Story, content string) string {
	if content == "" {
		var b strings.Builder
		fmt.Fprintf(&b, "# Story %s\n\n", story.Key)
		fmt.Fprintf(&b, "Status: %s\n", story.Status)
		if len(story.Tasks) > 0 {
			b.WriteString("\n## Tasks\n\n")
			for _, t := range story.Tasks {
				b.WriteString(renderTaskLine(t) + "\n")
			}
		}
		return b.String()
	}

	if statusLinePattern.MatchString(content) {
		replaced := false
		content = statusLinePattern.ReplaceAllStringFunc(content, func(line string) string {
			if replaced {
				return line
			}
			replaced = true
			m := statusLinePattern.FindStringSubmatch(line)
			return m[1] + string(story.Status)
		})
	} else {
		content = fmt.Sprintf("Status: %s\n%s", story.Status, content)
	}

	// Rewrite checkboxes in order against the story's task list.
	lines := strings.Split(content, "\n")
	taskIdx := 0
	for i, line := range lines {
		if taskIdx >= len(story.Tasks) {
			break
		}
		if m := taskLinePattern.FindStringSubmatch(line); m != nil {
			indent := line[:strings.Index(line, "-")]
			lines[i] = indent + renderTaskLine(story.Tasks[taskIdx])
			taskIdx++
		}
	}
	return strings.Join(lines, "\n")
}

func renderTaskLine(t domain.Task) string {
	box := " "
	if t.Done {
		box = "x"
	}
	return fmt.Sprintf("- [%s] %s", box, t.Text)
}

// normalizeStatus maps free-form status text to a canonical status value.
func normalizeStatus(raw string) domain.StoryStatus {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "-")
	switch s {
	case "done", "complete", "completed":
		return domain.StatusDone
	case "in-progress", "wip", "ready-for-review", "in-review":
		return domain.StatusInProgress
	case "backlog", "todo", "planned", "":
		return domain.StatusBacklog
	default:
		return domain.StoryStatus(s)
	}
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
