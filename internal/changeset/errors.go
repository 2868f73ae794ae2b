package changeset

import "fmt"

// Guidance tells users how to supply changes.
const Guidance = `Pass the revision range, as follows: --base=SHA1 --head=SHA2 (or two positional revisions: SHA1 SHA2).
Or pass the list of files, as follows: --files="libs/mylib/index.ts,libs/mylib2/index.ts".
Or pass a unified diff, as follows: --patch=changes.diff (use - for stdin).`

// SourceControlError reports invalid change input: an unknown revision, an
// unreachable range, a failed diff or a malformed file list.
type SourceControlError struct {
	Err error
}

func (e *SourceControlError) Error() string {
	return fmt.Sprintf("resolving changes: %v", e.Err)
}

func (e *SourceControlError) Unwrap() error {
	return e.Err
}

// Guidance returns help text explaining the accepted inputs.
func (e *SourceControlError) Guidance() string {
	return Guidance
}
