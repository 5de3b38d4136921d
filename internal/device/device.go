// Package device inspects block device topology: lsblk JSON parsing, blkid
// export parsing, boot-media detection and at-rest encryption sniffing.
// Grounded on original_source/docrip/discover.py.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"docrip/internal/dexec"
	"docrip/internal/docrip"
)

// Inspector discovers block devices via lsblk/blkid/findmnt.
type Inspector struct {
	Runner *dexec.Runner
}

// NewInspector returns an Inspector using r to invoke external tools.
func NewInspector(r *dexec.Runner) *Inspector {
	return &Inspector{Runner: r}
}

// lsblkNode mirrors one JSON object in `lsblk -b -J -o ...` output.
type lsblkNode struct {
	Name       string      `json:"name"`
	KName      string      `json:"kname"`
	Path       string      `json:"path"`
	Type       string      `json:"type"`
	Size       json.Number `json:"size"`
	FSType     string      `json:"fstype"`
	Label      string      `json:"label"`
	UUID       string      `json:"uuid"`
	Mountpoint string      `json:"mountpoint"`
	RM         bool        `json:"rm"`
	RO         bool        `json:"ro"`
	Model      string      `json:"model"`
	Tran       string      `json:"tran"`
	Children   []lsblkNode `json:"children"`
}

type lsblkOutput struct {
	BlockDevices []lsblkNode `json:"blockdevices"`
}

var lsblkColumns = "NAME,KNAME,PATH,TYPE,SIZE,FSTYPE,FSVER,LABEL,UUID,MOUNTPOINT,RM,RO,MODEL,TRAN"

// lsblkJSON runs lsblk and parses its JSON output into an lsblkOutput that
// keeps lsblk's nested device tree.
func (ins *Inspector) lsblkJSON(ctx context.Context) (lsblkOutput, error) {
	res, err := ins.Runner.Run(ctx, "lsblk", "-b", "-J", "-o", lsblkColumns)
	if err != nil {
		return lsblkOutput{}, fmt.Errorf("lsblk: %w", err)
	}
	var out lsblkOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return lsblkOutput{}, fmt.Errorf("lsblk output is not valid JSON: %w", err)
	}
	return out, nil
}

// BlkidExport runs `blkid -o export DEV` and parses KEY=VALUE lines. A
// failing blkid invocation (e.g. unrecognized superblock) yields an empty
// map rather than an error, matching discover.py's blkid_export.
func (ins *Inspector) BlkidExport(ctx context.Context, dev string) map[string]string {
	res, err := ins.Runner.Run(ctx, "blkid", "-o", "export", dev)
	out := map[string]string{}
	if err != nil {
		return out
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}

// IsEncrypted applies discover.py's is_encrypted heuristic: LUKS, BitLocker,
// encrypted APFS, VeraCrypt/TrueCrypt labels.
func (ins *Inspector) IsEncrypted(ctx context.Context, dev, fstype string) bool {
	if fstype == "crypto_LUKS" {
		return true
	}
	info := ins.BlkidExport(ctx, dev)
	t := strings.ToLower(info["TYPE"])
	label := strings.ToLower(info["LABEL"])
	if strings.Contains(t, "crypto_luks") {
		return true
	}
	if strings.Contains(t, "bitlocker") || strings.Contains(label, "bitlocker") || strings.Contains(label, "fve") {
		return true
	}
	if t == "apfs" && strings.Contains(strings.ToLower(info["APFS_FEATURES"]), "encrypted") {
		return true
	}
	if strings.Contains(label, "veracrypt") || strings.Contains(label, "truecrypt") {
		return true
	}
	return false
}

// FindBootDevices identifies the live/root device and common optical
// mountpoints so they can be excluded from candidate volumes.
func (ins *Inspector) FindBootDevices(ctx context.Context) map[string]bool {
	exclude := map[string]bool{}

	if res, err := ins.Runner.Run(ctx, "findmnt", "-no", "SOURCE", "/"); err == nil {
		src := strings.TrimSpace(res.Stdout)
		if strings.HasPrefix(src, "/dev/") {
			exclude[src] = true
			if disk, ok := ins.PKDiskOf(ctx, src); ok {
				exclude[disk] = true
			} else if m := wholeDiskRe.FindStringSubmatch(src); m != nil {
				exclude[m[1]] = true
			}
		}
	}
	for _, mp := range []string{"/cdrom", "/isodevice"} {
		if res, err := ins.Runner.Run(ctx, "findmnt", "-no", "SOURCE", mp); err == nil {
			src := strings.TrimSpace(res.Stdout)
			if strings.HasPrefix(src, "/dev/") {
				exclude[src] = true
			}
		}
	}
	return exclude
}

var wholeDiskRe = regexp.MustCompile(`^(/dev/[a-z]+)`)
var trailingDigitsRe = regexp.MustCompile(`(\d+)$`)

// kindOf maps an lsblk TYPE column value to docrip.DeviceKind.
func kindOf(t string) docrip.DeviceKind {
	switch t {
	case "disk":
		return docrip.KindDisk
	case "part":
		return docrip.KindPartition
	case "lvm":
		return docrip.KindLVMLV
	case "raid0", "raid1", "raid10", "raid5", "raid6":
		return docrip.KindMD
	case "crypt":
		return docrip.KindCrypt
	case "rom":
		return docrip.KindRom
	case "loop":
		return docrip.KindLoop
	case "zvol":
		return docrip.KindZvol
	default:
		return docrip.KindOther
	}
}

// considered mirrors discover.py's `consider` set: node types eligible to
// become candidate volumes (plus whole disks that carry a filesystem
// directly, e.g. an unpartitioned disk).
var considered = map[string]bool{
	"part": true, "lvm": true, "raid0": true, "raid1": true,
	"raid10": true, "raid5": true, "raid6": true, "crypt": true, "rom": true,
}

// Tree walks lsblk's output and returns every node that has a path,
// flattened in pre-order (each node before its children).
func (ins *Inspector) Tree(ctx context.Context) ([]lsblkNode, error) {
	data, err := ins.lsblkJSON(ctx)
	if err != nil {
		return nil, err
	}
	var flat []lsblkNode
	var walk func(lsblkNode)
	walk = func(n lsblkNode) {
		if n.Path != "" {
			flat = append(flat, n)
		}
		for _, ch := range n.Children {
			walk(ch)
		}
	}
	for _, n := range data.BlockDevices {
		walk(n)
	}
	return flat, nil
}

// diskIndex assigns a stable, sorted-name-order index to each whole disk,
// mirroring discover.py's _build_disk_index.
func diskIndex(nodes []lsblkNode) map[string]int {
	var disks []string
	for _, n := range nodes {
		if n.Type == "disk" {
			disks = append(disks, "/dev/"+n.Name)
		}
	}
	sort.Strings(disks)
	idx := make(map[string]int, len(disks))
	for i, d := range disks {
		idx[d] = i
	}
	return idx
}

// PKDiskOf walks up PKNAME (via `lsblk -no TYPE,PKNAME`) until it reaches a
// disk node, returning that disk's /dev path. Grounded on layers.py's
// pk_disk_of. Bounded to 8 hops to match the original's loop guard.
func (ins *Inspector) PKDiskOf(ctx context.Context, dev string) (string, bool) {
	seen := map[string]bool{}
	cur := dev
	for i := 0; i < 8; i++ {
		res, err := ins.Runner.Run(ctx, "lsblk", "-no", "TYPE,PKNAME", cur)
		if err != nil {
			return "", false
		}
		fields := strings.Fields(res.Stdout)
		var t, pk string
		if len(fields) > 0 {
			t = fields[0]
		}
		if len(fields) > 1 {
			pk = fields[1]
		}
		if t == "disk" {
			nameRes, err := ins.Runner.Run(ctx, "lsblk", "-dno", "NAME", cur)
			if err != nil {
				return "", false
			}
			return path.Join("/dev", strings.TrimSpace(nameRes.Stdout)), true
		}
		if pk == "" || seen[pk] {
			break
		}
		seen[pk] = true
		cur = "/dev/" + pk
	}
	return "", false
}

// Discover produces the raw candidate device list, without filtering. The
// volume package applies the filter chain that turns these into
// docrip.Volume entries with skip reasons.
func (ins *Inspector) Discover(ctx context.Context, skipIfEncrypted bool) ([]docrip.Device, error) {
	nodes, err := ins.Tree(ctx)
	if err != nil {
		return nil, err
	}
	boot := ins.FindBootDevices(ctx)

	var out []docrip.Device
	for _, n := range nodes {
		if !considered[n.Type] && !(n.Type == "disk" && n.FSType != "") {
			continue
		}
		size, _ := n.Size.Int64()
		fstype := strings.ToLower(n.FSType)

		var encrypted bool
		if skipIfEncrypted {
			encrypted = ins.IsEncrypted(ctx, n.Path, fstype)
		}

		parentDisk, ok := ins.PKDiskOf(ctx, n.Path)
		if !ok {
			if n.Type == "disk" {
				parentDisk = "/dev/" + n.Name
			}
		}
		d := docrip.Device{
			Path:      n.Path,
			KName:     n.KName,
			Kind:      kindOf(n.Type),
			FSType:    fstype,
			SizeBytes: size,
			Parent:    parentDisk,
			UUID:      n.UUID,
			Model:     n.Model,
			Encrypted: encrypted,
			IsBoot:    boot[n.Path],
		}
		if n.Mountpoint != "" {
			d.Mountpoints = []string{n.Mountpoint}
		}
		out = append(out, d)
	}
	return out, nil
}

// DiskIndexOf exposes the disk-index map for internal/volume to assign
// stable diskno values without re-running lsblk.
func (ins *Inspector) DiskIndexOf(ctx context.Context) (map[string]int, error) {
	nodes, err := ins.Tree(ctx)
	if err != nil {
		return nil, err
	}
	return diskIndex(nodes), nil
}

// TrailingDigits extracts the trailing partition number from a kernel name,
// e.g. "sdb1" -> 1, mirroring discover.py's `re.search(r"(\d+)$", kname)`.
func TrailingDigits(kname string) int {
	m := trailingDigitsRe.FindStringSubmatch(kname)
	if m == nil {
		return 0
	}
	var n int
	fmt.Sscanf(m[1], "%d", &n)
	return n
}
