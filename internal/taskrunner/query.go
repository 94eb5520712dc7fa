package taskrunner

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/moonrepo/pipeline-core/internal/hashengine"
	"github.com/moonrepo/pipeline-core/internal/model"
)

// QueryHash lists every saved manifest digest starting with prefix, in
// lexicographic order, letting a user narrow down a specific run's hash without already
// knowing the full digest (spec.md §4.8, "query_hash(prefix)").
func (r *Runner) QueryHash(prefix string) ([]string, error) {
	entries, err := os.ReadDir(r.Cache.Hash.ManifestDir.ToString())
	if err != nil {
		return nil, fmt.Errorf("listing manifests: %w", err)
	}
	var matches []string
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		if strings.HasPrefix(name, prefix) {
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// HashDiff is one field-level difference between two manifests, keyed by
// its model.HashManifest Go struct field name.
type HashDiff struct {
	Field string `json:"field"`
	Left  string `json:"left"`
	Right string `json:"right"`
}

// QueryHashDiff loads the two manifests named by the left and right
// digests and reports every top-level field whose canonical JSON differs,
// so a user can see exactly why a task missed cache (spec.md §4.8,
// "query_hash_diff(left, right)").
func (r *Runner) QueryHashDiff(left, right hashengine.Digest) ([]HashDiff, error) {
	leftManifest, err := r.loadManifest(left)
	if err != nil {
		return nil, err
	}
	rightManifest, err := r.loadManifest(right)
	if err != nil {
		return nil, err
	}

	var diffs []HashDiff
	lv := reflect.ValueOf(leftManifest)
	rv := reflect.ValueOf(rightManifest)
	t := lv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		lf, _ := json.Marshal(lv.Field(i).Interface())
		rf, _ := json.Marshal(rv.Field(i).Interface())
		if string(lf) != string(rf) {
			diffs = append(diffs, HashDiff{Field: field.Name, Left: string(lf), Right: string(rf)})
		}
	}
	return diffs, nil
}

func (r *Runner) loadManifest(digest hashengine.Digest) (model.HashManifest, error) {
	buf, err := r.Cache.Hash.ReadManifest(digest)
	if err != nil {
		return model.HashManifest{}, fmt.Errorf("reading manifest %s: %w", digest, err)
	}
	var m model.HashManifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return model.HashManifest{}, fmt.Errorf("parsing manifest %s: %w", digest, err)
	}
	return m, nil
}
