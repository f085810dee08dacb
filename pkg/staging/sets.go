package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ImageSet is one (well, site, z-slice) group of channel images.
type ImageSet struct {
	Well     string
	Site     string
	ZSlice   string
	Channels []string
	Missing  []string
	Files    []string
}

func (s ImageSet) ID() string {
	return fmt.Sprintf("%s_site%s_%s", s.Well, s.Site, s.ZSlice)
}

// parseImageName splits "<well>-<site>_<channel>_<zslice>[_...].tif".
func parseImageName(name string) (well, site, channel, zslice string, ok bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(stem, "_")
	if len(parts) < 3 {
		return "", "", "", "", false
	}
	well, site, ok = strings.Cut(parts[0], "-")
	if !ok || well == "" || site == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", "", false
	}
	return well, site, parts[1], parts[2], true
}

// IncompleteSets groups the images directly inside dir and returns the sets
// lacking any required channel, ordered by set id. Files that do not follow
// the naming scheme are ignored.
func IncompleteSets(dir string, required []string) ([]ImageSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	sets := map[string]*ImageSet{}
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), DefaultImageExts) {
			continue
		}
		well, site, channel, z, ok := parseImageName(e.Name())
		if !ok {
			continue
		}
		s := &ImageSet{Well: well, Site: site, ZSlice: z}
		if existing, found := sets[s.ID()]; found {
			s = existing
		} else {
			sets[s.ID()] = s
		}
		s.Channels = append(s.Channels, channel)
		s.Files = append(s.Files, filepath.Join(dir, e.Name()))
	}

	var out []ImageSet
	for _, s := range sets {
		have := make(map[string]bool, len(s.Channels))
		for _, c := range s.Channels {
			have[c] = true
		}
		for _, r := range required {
			if !have[r] {
				s.Missing = append(s.Missing, r)
			}
		}
		if len(s.Missing) > 0 {
			sort.Strings(s.Channels)
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// QuarantineDir is where incomplete sets go: a sibling of the image directory.
func QuarantineDir(dir string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(dir)), "incomplete_data")
}

// QuarantineIncomplete moves every file of the given sets into QuarantineDir
// and returns how many files moved.
func QuarantineIncomplete(dir string, sets []ImageSet) (int, error) {
	if len(sets) == 0 {
		return 0, nil
	}
	target := QuarantineDir(dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return 0, err
	}
	moved := 0
	for _, s := range sets {
		for _, f := range s.Files {
			if err := os.Rename(f, filepath.Join(target, filepath.Base(f))); err != nil {
				return moved, fmt.Errorf("quarantine %s: %w", f, err)
			}
			moved++
		}
	}
	return moved, nil
}
