package definition

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the definitions loaded from a directory.
type LoadResult struct {
	Definitions []Definition
	CUEValue    cue.Value // The raw CUE value for additional processing
	FileCount   int       // Number of CUE files found
}

// Lookup returns the definition of the named store.
func (r *LoadResult) Lookup(name string) (*Definition, bool) {
	for i := range r.Definitions {
		if r.Definitions[i].Name == name {
			return &r.Definitions[i], true
		}
	}
	return nil, false
}

// Names returns the loaded store names in CUE field order.
func (r *LoadResult) Names() []string {
	names := make([]string, len(r.Definitions))
	for i, d := range r.Definitions {
		names[i] = d.Name
	}
	return names
}

// Error code constants shared by every command that loads definitions.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	ErrCodeStore       = "E101" // Store name missing
	ErrCodeAction      = "E102" // No actions or bad action
	ErrCodeParams      = "E103" // Bad action params
	ErrCodeInvalidType = "E104" // Non-concrete or mistyped value
	ErrCodeState       = "E105" // State is not a struct

	ErrCodeReducer    = "E110" // Malformed reducer
	ErrCodeReducerOp  = "E111" // Unknown or misused reducer op
	ErrCodeReducerOn  = "E112" // Reducer references an undeclared action
	ErrCodeMiddleware = "E120" // Malformed middleware
	ErrCodeKind       = "E121" // Unknown middleware kind
	ErrCodeMiddleOn   = "E122" // Middleware references an undeclared action
)

// LoadError represents an error that occurred during loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDir loads and compiles the store definitions of a CUE package
// directory. Stores are declared under the top-level "store" field.
// If mode is LoadModeFailFast, returns on the first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadDir(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	storesVal := value.LookupPath(cue.ParsePath("store"))
	if storesVal.Exists() {
		iter, iterErr := storesVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating stores: %v", iterErr)})
			return result, errs
		}
		for iter.Next() {
			def, compileErr := Compile(iter.Value())
			if compileErr != nil {
				errs = append(errs, convertCompileError(compileErr, "store."+iter.Label()))
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			result.Definitions = append(result.Definitions, *def)
		}
	}

	if len(result.Definitions) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no stores found in definitions"})
	}
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compile error to a LoadError with position
// info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", context, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// MapFieldToErrorCode maps a CompileError field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "store":
		return ErrCodeStore
	case "action":
		return ErrCodeAction
	case "action.params":
		return ErrCodeParams
	case "type":
		return ErrCodeInvalidType
	case "state":
		return ErrCodeState
	case "reducer":
		return ErrCodeReducer
	case "reducer.op", "reducer.value":
		return ErrCodeReducerOp
	case "reducer.on":
		return ErrCodeReducerOn
	case "middleware":
		return ErrCodeMiddleware
	case "middleware.kind":
		return ErrCodeKind
	case "middleware.on":
		return ErrCodeMiddleOn
	default:
		return ErrCodeGeneric
	}
}

// IsCompileError reports whether err is a *CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}
