// Package depgen implements automatic file-dependency generation (spec.md
// §4.7): ELF/script/Python/SMF analysis of a manifest's File actions, and
// resolution of the resulting FileDeps into Dependency actions via a
// repository's path index. Ported near-directly from the original Rust
// implementation's depend/mod.rs (PD_DEFAULT_RUNPATH splicing,
// process_elf's DT_NEEDED/DT_RUNPATH/$ORIGIN handling, parse_shebang,
// infer_python_version_from_paths, collect_python_imports,
// extract_smf_execs), substituting stdlib debug/elf for goblin since no
// ELF-parsing library exists anywhere in the retrieved example pack.
package depgen

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
	"github.com/OpenFlowLabs/ipstoolkit/manifest"
	"github.com/OpenFlowLabs/ipstoolkit/repository"
)

// PDDefaultRunpath is the literal token a caller-supplied runpath override
// may contain to splice in the analyzer's default search paths (spec.md
// §4.7).
const PDDefaultRunpath = "PD_DEFAULT_RUNPATH"

// Kind names the category of file dependency analysis that produced a
// FileDep.
type Kind string

const (
	KindElf    Kind = "elf"
	KindScript Kind = "script"
	KindPython Kind = "python"
)

// FileDep is an intermediate, unresolved file-level dependency (spec.md
// §4.7). For KindPython, BaseNames holds the candidate module file names;
// for other kinds, exactly BaseNames[0] is populated.
type FileDep struct {
	Kind          Kind
	BaseNames     []string
	RunPaths      []string
	InstalledPath string
}

// GenerateOptions controls dependency analysis (spec.md §4.7).
type GenerateOptions struct {
	// Runpath is a colon-separated override applied to every analyzed
	// action; if it contains PDDefaultRunpath, the analyzer's defaults are
	// spliced in at that position.
	Runpath string
	// BypassPatterns are regexes; any installed path matching any of them
	// is skipped entirely.
	BypassPatterns []string
	// ProtoDir is the prototype directory root used to locate local files
	// when only the manifest's relative path is known.
	ProtoDir string
}

var shebangLineEnd = regexp.MustCompile(`[\r\n]`)

// GenerateFileDependencies analyzes every File action in m and returns the
// file-level dependencies discovered (spec.md §4.7 items 1-4).
func GenerateFileDependencies(m *manifest.Manifest, opts GenerateOptions) ([]FileDep, error) {
	bypass, err := compileBypass(opts.BypassPatterns)
	if err != nil {
		return nil, err
	}

	var out []FileDep
	for _, f := range m.Files {
		installedPath := f.Path
		if !strings.HasPrefix(installedPath, "/") {
			installedPath = "/" + installedPath
		}

		if shouldBypass(installedPath, bypass) {
			continue
		}

		localPath := resolveLocalPath(f, installedPath, opts.ProtoDir)
		if localPath == "" {
			continue
		}
		data, err := os.ReadFile(localPath)
		if err != nil {
			continue
		}

		if len(data) >= 4 && string(data[:4]) == elf.ELFMAG {
			deps, err := processElf(data, installedPath, opts)
			if err != nil {
				return nil, err
			}
			out = append(out, deps...)
			continue
		}

		if interp, ok := parseShebang(data); ok {
			if !isExecutableMode(f.Mode) {
				continue
			}
			interpPath := normalizeBinPath(interp)
			if strings.HasPrefix(interpPath, "/") {
				dir, base := splitDirBase(interpPath)
				if dir != "" {
					out = append(out, FileDep{
						Kind:          KindScript,
						BaseNames:     []string{base},
						RunPaths:      []string{dir},
						InstalledPath: installedPath,
					})
					if strings.Contains(interpPath, "python") {
						if maj, min, ok := inferPythonVersion(installedPath, interpPath); ok {
							out = append(out, processPython(string(data), installedPath, maj, min, opts)...)
						}
					}
				}
			}
		} else if maj, min, ok := inferPythonVersion(installedPath, ""); ok {
			out = append(out, processPython(string(data), installedPath, maj, min, opts)...)
		}

		if looksLikeSMFManifest(data) {
			for _, execPath := range extractSMFExecs(data) {
				if strings.HasPrefix(execPath, "/") {
					dir, base := splitDirBase(execPath)
					if dir != "" {
						out = append(out, FileDep{
							Kind:          KindScript,
							BaseNames:     []string{base},
							RunPaths:      []string{dir},
							InstalledPath: installedPath,
						})
					}
				}
			}
		}
	}
	return out, nil
}

func resolveLocalPath(f manifest.File, installedPath, protoDir string) string {
	if original := firstProp(f.Properties, "original-path"); original != "" {
		if path.IsAbs(original) {
			return original
		}
		if protoDir != "" {
			cand := path.Join(protoDir, strings.TrimPrefix(original, "/"))
			if _, err := os.Stat(cand); err == nil {
				return cand
			}
			return path.Join(protoDir, strings.TrimPrefix(installedPath, "/"))
		}
		return original
	}
	if protoDir == "" {
		return ""
	}
	return path.Join(protoDir, strings.TrimPrefix(installedPath, "/"))
}

func firstProp(props map[string][]string, key string) string {
	if v, ok := props[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func compileBypass(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, ipserr.New(ipserr.ErrRegexCompile, "invalid bypass pattern "+p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func shouldBypass(installedPath string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(installedPath) {
			return true
		}
	}
	return false
}

// insertDefaultRunpath splices defaults into provided at the
// PDDefaultRunpath token (spec.md §4.7: "multiple tokens are an error").
func insertDefaultRunpath(defaults, provided []string) ([]string, error) {
	var out []string
	tokenCount := 0
	for _, p := range provided {
		if p == PDDefaultRunpath {
			tokenCount++
			if tokenCount > 1 {
				return nil, ipserr.New(ipserr.ErrDepgen, "multiple PD_DEFAULT_RUNPATH tokens in runpath override", nil)
			}
			out = append(out, defaults...)
		} else {
			out = append(out, p)
		}
	}
	if tokenCount == 0 {
		return provided, nil
	}
	return out, nil
}

func processElf(data []byte, installedPath string, opts GenerateOptions) ([]FileDep, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	needed, err := f.DynString(elf.DT_NEEDED)
	if err != nil || len(needed) == 0 {
		return nil, nil
	}

	defaults := []string{"/lib", "/usr/lib"}
	if f.Class == elf.ELFCLASS64 {
		defaults = append(defaults, "/lib/64", "/usr/lib/64")
	}

	var runpaths []string
	for _, tag := range []elf.DynTag{elf.DT_RUNPATH, elf.DT_RPATH} {
		vals, err := f.DynString(tag)
		if err == nil {
			for _, v := range vals {
				for _, seg := range strings.Split(v, ":") {
					if seg != "" {
						runpaths = append(runpaths, seg)
					}
				}
			}
		}
	}

	var effective []string
	if opts.Runpath != "" {
		provided := strings.Split(opts.Runpath, ":")
		merged, err := insertDefaultRunpath(defaults, provided)
		if err != nil {
			return nil, err
		}
		effective = merged
	} else if len(runpaths) > 0 {
		effective = runpaths
	} else {
		effective = defaults
	}

	origin := path.Dir(installedPath)
	expanded := make([]string, len(effective))
	for i, p := range effective {
		expanded[i] = strings.ReplaceAll(p, "$ORIGIN", origin)
	}

	var out []FileDep
	for _, bn := range needed {
		out = append(out, FileDep{
			Kind:          KindElf,
			BaseNames:     []string{bn},
			RunPaths:      append([]string(nil), expanded...),
			InstalledPath: installedPath,
		})
	}
	return out, nil
}

func parseShebang(data []byte) (string, bool) {
	if len(data) < 2 || data[0] != '#' || data[1] != '!' {
		return "", false
	}
	loc := shebangLineEnd.FindIndex(data[2:])
	end := len(data)
	if loc != nil {
		end = 2 + loc[0]
	}
	line := strings.TrimSpace(string(data[2:end]))
	if line == "" {
		return "", false
	}
	fields := strings.Fields(line)
	return fields[0], true
}

func isExecutableMode(modeStr string) bool {
	modeStr = strings.TrimSpace(modeStr)
	if modeStr == "" {
		return true
	}
	bits, err := strconv.ParseUint(strings.TrimPrefix(modeStr, "0"), 8, 32)
	if err != nil {
		return true
	}
	return bits&0o111 != 0
}

func normalizeBinPath(p string) string {
	if strings.HasPrefix(p, "/bin/") {
		return "/usr/bin/" + strings.TrimPrefix(p, "/bin/")
	}
	return p
}

func splitDirBase(p string) (dir, base string) {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "", p
	}
	if idx == 0 {
		return "/", p[1:]
	}
	return p[:idx], p[idx+1:]
}

func looksLikeSMFManifest(data []byte) bool {
	return strings.Contains(string(data), "<service_bundle")
}

var smfExecRe = regexp.MustCompile(`exec\s*=\s*"([^"]+)"|exec\s*=\s*'([^']+)'`)

func extractSMFExecs(data []byte) []string {
	var out []string
	for _, m := range smfExecRe.FindAllStringSubmatch(string(data), -1) {
		val := m[1]
		if val == "" {
			val = m[2]
		}
		if val != "" && !containsStr(out, val) {
			out = append(out, val)
		}
	}
	return out
}

var pythonPathRe = regexp.MustCompile(`^/usr/lib/python(\d+)\.(\d+)(/|$)`)
var pythonShebangRe = regexp.MustCompile(`python(\d+)\.(\d+)`)

func inferPythonVersion(installedPath, shebangPath string) (maj, min int, ok bool) {
	if m := pythonPathRe.FindStringSubmatch(installedPath); m != nil {
		maj, _ = strconv.Atoi(m[1])
		min, _ = strconv.Atoi(m[2])
		return maj, min, true
	}
	if shebangPath != "" {
		if m := pythonShebangRe.FindStringSubmatch(shebangPath); m != nil {
			maj, _ = strconv.Atoi(m[1])
			min, _ = strconv.Atoi(m[2])
			return maj, min, true
		}
	}
	return 0, 0, false
}

func computePythonRunpaths(maj, min int, opts GenerateOptions) []string {
	base := fmt.Sprintf("/usr/lib/python%d.%d", maj, min)
	defaults := []string{base, base + "/vendor-packages", base + "/site-packages", base + "/lib-dynload"}
	if opts.Runpath == "" {
		return defaults
	}
	provided := strings.Split(opts.Runpath, ":")
	merged, err := insertDefaultRunpath(defaults, provided)
	if err != nil {
		return provided
	}
	return merged
}

var pyImportRe = regexp.MustCompile(`(?m)^\s*import\s+([A-Za-z_][A-Za-z0-9_.]*)`)
var pyFromImportRe = regexp.MustCompile(`(?m)^\s*from\s+([A-Za-z_][A-Za-z0-9_.]*)\s+import\s+`)

func collectPythonImports(src string) []string {
	var mods []string
	add := func(name string) {
		name = strings.SplitN(name, ".", 2)[0]
		if name != "" && !containsStr(mods, name) {
			mods = append(mods, name)
		}
	}
	for _, m := range pyImportRe.FindAllStringSubmatch(src, -1) {
		add(m[1])
	}
	for _, m := range pyFromImportRe.FindAllStringSubmatch(src, -1) {
		add(m[1])
	}
	return mods
}

func processPython(text, installedPath string, maj, min int, opts GenerateOptions) []FileDep {
	imports := collectPythonImports(text)
	if len(imports) == 0 {
		return nil
	}
	var baseNames []string
	for _, m := range imports {
		py, so := m+".py", m+".so"
		if !containsStr(baseNames, py) {
			baseNames = append(baseNames, py)
		}
		if !containsStr(baseNames, so) {
			baseNames = append(baseNames, so)
		}
	}
	return []FileDep{{
		Kind:          KindPython,
		BaseNames:     baseNames,
		RunPaths:      computePythonRunpaths(maj, min, opts),
		InstalledPath: installedPath,
	}}
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ResolveDependencies builds a path->providers index from repo and turns
// file_deps into Dependency actions (spec.md §4.7 "Resolution"): exactly
// one provider emits type=require; multiple providers emit one
// type=require-any action per provider (a model-limited surrogate, since
// IPS actions have no native "any of" grouping); zero providers are
// skipped, not an error.
func ResolveDependencies(repo *repository.Repository, publisher string, fileDeps []FileDep) ([]manifest.Dependency, error) {
	pathMap, err := buildPathProviderMap(repo, publisher)
	if err != nil {
		return nil, err
	}

	var deps []manifest.Dependency
	for _, fd := range fileDeps {
		var providers []string
		for _, dir := range fd.RunPaths {
			for _, base := range fd.BaseNames {
				full := normalizeJoin(dir, base)
				for _, fmriStr := range pathMap[full] {
					if !containsStr(providers, fmriStr) {
						providers = append(providers, fmriStr)
					}
				}
			}
		}
		switch len(providers) {
		case 0:
			continue
		case 1:
			deps = append(deps, manifest.Dependency{Fmri: providers[0], Type: "require"})
		default:
			for _, p := range providers {
				deps = append(deps, manifest.Dependency{Fmri: p, Type: "require-any"})
			}
		}
	}
	return deps, nil
}

func normalizeJoin(dir, base string) string {
	return strings.TrimSuffix(dir, "/") + "/" + base
}

func buildPathProviderMap(repo *repository.Repository, publisher string) (map[string][]string, error) {
	contents, err := repo.ShowContents(publisher, "", []string{"file"})
	if err != nil {
		return nil, err
	}
	m := map[string][]string{}
	for fmriStr, manifestContents := range contents {
		for _, f := range manifestContents.Files {
			key := f.Path
			if !strings.HasPrefix(key, "/") {
				key = "/" + key
			}
			m[key] = append(m[key], fmriStr)
		}
	}
	return m, nil
}
