// Package volume turns raw discovered devices into candidate Volumes,
// applying the eligibility filter chain and deriving stable archive base
// names. Grounded on original_source/docrip/discover.py's collect_volumes
// and orchestrator.py's naming pattern substitution.
package volume

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"docrip/internal/config"
	"docrip/internal/docrip"
)

// Enumerator applies the eligibility filter chain to discovered devices.
type Enumerator struct {
	Discovery config.DiscoveryConfig
}

// NewEnumerator returns an Enumerator using the given discovery settings.
func NewEnumerator(d config.DiscoveryConfig) *Enumerator {
	return &Enumerator{Discovery: d}
}

// Select converts devices into Volumes with a diskno already assigned
// (looked up from diskIndex, keyed by whole-disk /dev path), applying the
// filter chain in the exact order discover.py evaluates it: boot/avoid,
// skip_fstypes, include_fstypes, encrypted, too_small, layer_disallowed. The
// first matching reason wins; a volume with no matching reason is selected.
func (e *Enumerator) Select(devices []docrip.Device, diskIndex map[string]int, only map[string]bool) []docrip.Volume {
	minBytes := int64(e.Discovery.MinPartitionSizeGB) * (1 << 30)

	avoid := make(map[string]bool, len(e.Discovery.AvoidDevices))
	for _, d := range e.Discovery.AvoidDevices {
		avoid[d] = true
	}
	skipFS := make(map[string]bool, len(e.Discovery.SkipFSTypes))
	for _, f := range e.Discovery.SkipFSTypes {
		skipFS[f] = true
	}
	includeFS := make(map[string]bool, len(e.Discovery.IncludeFSTypes))
	for _, f := range e.Discovery.IncludeFSTypes {
		includeFS[f] = true
	}

	vols := make([]docrip.Volume, 0, len(devices))
	for _, d := range devices {
		v := docrip.Volume{
			DevicePath: d.Path,
			KName:      d.KName,
			FSType:     d.FSType,
			SizeBytes:  d.SizeBytes,
			Kind:       d.Kind,
			UUID:       d.UUID,
			Model:      d.Model,
			Encrypted:  d.Encrypted,
			DiskNo:     diskIndex[d.Parent],
			PartNo:     trailingPartNo(d.KName),
		}

		switch {
		case d.IsBoot || avoid[path.Base(d.Path)]:
			v.SkipReason = docrip.SkipBoot
		case skipFS[v.FSType]:
			v.SkipReason = docrip.SkipFSTypeBlocked
		case len(includeFS) > 0 && !includeFS[v.FSType]:
			v.SkipReason = docrip.SkipFSTypeUnsupported
		case e.Discovery.SkipIfEncrypted && v.Encrypted:
			v.SkipReason = docrip.SkipEncrypted
		case v.SizeBytes < minBytes:
			v.SkipReason = docrip.SkipTooSmall
		case d.Kind == docrip.KindLVMLV && !e.Discovery.AllowLVM:
			v.SkipReason = docrip.SkipLayerDisallowed
		case d.Kind == docrip.KindMD && !e.Discovery.AllowRAID:
			v.SkipReason = docrip.SkipLayerDisallowed
		default:
			v.SkipReason = docrip.SkipNone
		}

		if only != nil && !only[v.DevicePath] && v.SkipReason == docrip.SkipNone {
			v.SkipReason = docrip.SkipNotInOnly
		}

		v.Selected = v.SkipReason == docrip.SkipNone
		vols = append(vols, v)
	}
	return vols
}

func trailingPartNo(kname string) int {
	i := len(kname)
	for i > 0 && kname[i-1] >= '0' && kname[i-1] <= '9' {
		i--
	}
	if i == len(kname) {
		return 0
	}
	var n int
	fmt.Sscanf(kname[i:], "%d", &n)
	return n
}

// Selected filters vols to only those eligible for processing, sorted
// largest-first, matching orchestrator.py's
// `to_process.sort(key=lambda x: x.size_bytes, reverse=True)`; volumes of
// equal size are ordered by device path.
func Selected(vols []docrip.Volume) []docrip.Volume {
	var out []docrip.Volume
	for _, v := range vols {
		if v.Selected {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SizeBytes != out[j].SizeBytes {
			return out[i].SizeBytes > out[j].SizeBytes
		}
		return out[i].DevicePath < out[j].DevicePath
	})
	return out
}

// NameParams supplies the substitution values for a naming pattern.
type NameParams struct {
	Date  string
	Token string
	Disk  int
	Part  int
}

// RenderName expands a pattern like "{date}_{token}_d{disk}_p{part}" using
// the supplied values, matching cfg.pattern.format(...) in orchestrator.py.
func RenderName(pattern string, p NameParams) string {
	r := strings.NewReplacer(
		"{date}", p.Date,
		"{token}", p.Token,
		"{disk}", fmt.Sprintf("%d", p.Disk),
		"{part}", fmt.Sprintf("%d", p.Part),
	)
	return r.Replace(pattern)
}

// AssignArchiveBases renders and assigns ArchiveBase for each volume,
// appending a numeric suffix ("-2", "-3", ...) on collision so two volumes
// that would otherwise render to the same base name remain distinguishable.
func AssignArchiveBases(vols []docrip.Volume, pattern, date, token string) {
	seen := make(map[string]int, len(vols))
	for i := range vols {
		v := &vols[i]
		base := RenderName(pattern, NameParams{Date: date, Token: token, Disk: v.DiskNo, Part: v.PartNo})
		seen[base]++
		if n := seen[base]; n > 1 {
			base = fmt.Sprintf("%s-%d", base, n)
		}
		v.ArchiveBase = base
	}
}
