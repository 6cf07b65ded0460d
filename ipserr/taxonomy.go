package ipserr

// Groups mirror the sections of the toolkit that raise them.
const (
	GroupIO         = "io"
	GroupParse      = "parse"
	GroupPath       = "path"
	GroupNotFound   = "notfound"
	GroupDigest     = "digest"
	GroupRepository = "repository"
	GroupConfig     = "config"
	GroupSolver     = "solver"
	GroupTransform  = "transform"
	GroupDepgen     = "depgen"
	GroupCatalog    = "catalog"
)

// The descriptor list below is the Go rendering of spec.md §6's "Error
// taxonomy" enumeration: IO, JSON parse/serialize, regex compile, path
// traversal/absolute path forbidden, not-found, digest mismatch,
// unsupported repository version, publisher not found/already exists,
// config read/write, unsupported action, solver NoCandidates/Unsolvable,
// transform parse error, dependency-generation error, catalog database
// error.
var (
	ErrIO = Register(GroupIO, ErrorDescriptor{
		Value:   "IO_ERROR",
		Message: "I/O operation failed",
		Help:    "check that the path exists and the process has the required permissions",
	})

	ErrJSONDecode = Register(GroupParse, ErrorDescriptor{
		Value:   "JSON_DECODE",
		Message: "failed to decode JSON",
		Help:    "verify the input is well-formed JSON matching the expected schema",
	})

	ErrJSONEncode = Register(GroupParse, ErrorDescriptor{
		Value:   "JSON_ENCODE",
		Message: "failed to encode JSON",
		Help:    "the value being serialized likely contains an unsupported type",
	})

	ErrManifestParse = Register(GroupParse, ErrorDescriptor{
		Value:   "MANIFEST_PARSE",
		Message: "failed to parse manifest",
		Help:    "check the manifest line syntax: action keyword, then key=value pairs",
	})

	ErrRegexCompile = Register(GroupParse, ErrorDescriptor{
		Value:   "REGEX_COMPILE",
		Message: "failed to compile regular expression",
		Help:    "verify the pattern is valid RE2 syntax",
	})

	ErrAbsolutePathForbidden = Register(GroupPath, ErrorDescriptor{
		Value:   "ABSOLUTE_PATH_FORBIDDEN",
		Message: "absolute path is not permitted here",
		Help:    "action and link target paths must be relative to the image root",
	})

	ErrPathTraversal = Register(GroupPath, ErrorDescriptor{
		Value:   "PATH_TRAVERSAL",
		Message: "path traversal would escape the image root",
		Help:    "check for unbalanced \"..\" components in the action path",
	})

	ErrNotFound = Register(GroupNotFound, ErrorDescriptor{
		Value:   "NOT_FOUND",
		Message: "requested object not found",
		Help:    "verify the FMRI, digest, or path exists in the repository or image",
	})

	ErrDigestMismatch = Register(GroupDigest, ErrorDescriptor{
		Value:   "DIGEST_MISMATCH",
		Message: "computed digest does not match expected digest",
		Help:    "the payload is corrupt or was stored under the wrong key; re-fetch or re-publish it",
	})

	ErrDigestParse = Register(GroupDigest, ErrorDescriptor{
		Value:   "DIGEST_PARSE",
		Message: "failed to parse digest string",
		Help:    "digests must be hex, or \"source:algorithm:hex\"",
	})

	ErrUnsupportedRepoVersion = Register(GroupRepository, ErrorDescriptor{
		Value:   "UNSUPPORTED_REPOSITORY_VERSION",
		Message: "repository version is not supported",
		Help:    "this toolkit supports pkg6.repository version 4 and pkg5.repository (read-only)",
	})

	ErrPublisherNotFound = Register(GroupRepository, ErrorDescriptor{
		Value:   "PUBLISHER_NOT_FOUND",
		Message: "publisher not found in repository",
		Help:    "add the publisher first, or check for a typo in the publisher name",
	})

	ErrPublisherExists = Register(GroupRepository, ErrorDescriptor{
		Value:   "PUBLISHER_ALREADY_EXISTS",
		Message: "publisher already exists in repository",
		Help:    "remove the existing publisher first if you intend to replace it",
	})

	ErrConfigRead = Register(GroupConfig, ErrorDescriptor{
		Value:   "CONFIG_READ",
		Message: "failed to read configuration",
		Help:    "check the configuration file's YAML syntax and field names",
	})

	ErrConfigWrite = Register(GroupConfig, ErrorDescriptor{
		Value:   "CONFIG_WRITE",
		Message: "failed to write configuration",
		Help:    "check permissions on the repository or image root",
	})

	ErrUnsupportedAction = Register(GroupParse, ErrorDescriptor{
		Value:   "UNSUPPORTED_ACTION",
		Message: "unsupported or unknown action kind",
		Help:    "enable permissive mode to skip unknown actions, or correct the manifest",
	})

	ErrSolverNoCandidates = Register(GroupSolver, ErrorDescriptor{
		Value:   "SOLVER_NO_CANDIDATES",
		Message: "no candidate versions available for a required package",
		Help:    "check that the stem is spelled correctly and a publisher provides it",
	})

	ErrSolverUnsolvable = Register(GroupSolver, ErrorDescriptor{
		Value:   "SOLVER_UNSOLVABLE",
		Message: "no install plan satisfies the given constraints",
		Help:    "use the advice module to see which constraint could not be satisfied",
	})

	ErrTransformParse = Register(GroupTransform, ErrorDescriptor{
		Value:   "TRANSFORM_PARSE",
		Message: "failed to parse transform rule",
		Help:    "check the rule's target/match_type/pattern/op fields against the grammar",
	})

	ErrDepgen = Register(GroupDepgen, ErrorDescriptor{
		Value:   "DEPGEN_ERROR",
		Message: "dependency generation failed",
		Help:    "check that the analyzed artifact is well-formed for its detected kind (ELF/script/Python/SMF)",
	})

	ErrCatalogDatabase = Register(GroupCatalog, ErrorDescriptor{
		Value:   "CATALOG_DATABASE",
		Message: "catalog database operation failed",
		Help:    "check that no other writer holds the image catalog open, and that the database file is not corrupt",
	})
)
