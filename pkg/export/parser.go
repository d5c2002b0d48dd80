package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/marmos91/dittofs-exports/pkg/auth"
)

// ErrUnreadable marks the ParseError returned when the export source itself
// could not be read.
var ErrUnreadable = errors.New("export source unreadable")

// ParseError reports a single export clause that could not be parsed.
//
// Parse errors are recoverable: the offending clause is dropped and parsing
// continues with the next clause.
type ParseError struct {
	Source string
	Line   int
	Clause string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Clause != "" {
		return fmt.Sprintf("%s:%d: %q: %v", e.Source, e.Line, e.Clause, e.Err)
	}
	return fmt.Sprintf("%s:%d: %v", e.Source, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse reads export rules from r.
//
// Each logical line has the form
//
//	path client(options) client(options) ...
//
// Blank lines and lines starting with '#' are ignored, a trailing '\' joins
// the next line. A path without clients is exported to "*" with default
// options. Parse returns every clause that parsed successfully (in file
// order) together with one ParseError per dropped clause.
func Parse(r io.Reader, source string) ([]*Export, []error) {
	var (
		exports []*Export
		errs    []error
		pending strings.Builder
		start   int
		lineNo  int
	)

	flush := func() {
		line := strings.TrimSpace(pending.String())
		pending.Reset()
		if line == "" || strings.HasPrefix(line, "#") {
			return
		}
		e, lineErrs := parseLine(line, source, start)
		exports = append(exports, e...)
		errs = append(errs, lineErrs...)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if pending.Len() == 0 {
			start = lineNo
		}
		if strings.HasSuffix(text, "\\") {
			pending.WriteString(strings.TrimSuffix(text, "\\"))
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(text)
		flush()
	}
	flush()

	if err := scanner.Err(); err != nil {
		errs = append(errs, &ParseError{Source: source, Line: lineNo, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)})
	}
	return exports, errs
}

// parseLine parses one logical export line.
func parseLine(line, source string, lineNo int) ([]*Export, []error) {
	fields := strings.Fields(line)
	p := fields[0]
	where := fmt.Sprintf("%s:%d", source, lineNo)

	if !strings.HasPrefix(p, "/") {
		return nil, []error{&ParseError{Source: source, Line: lineNo, Err: fmt.Errorf("export path %q is not absolute", p)}}
	}

	if len(fields) == 1 {
		e := newExport(p, MustParseClientPattern("*"))
		e.Source = where
		return []*Export{e}, nil
	}

	var (
		exports []*Export
		errs    []error
	)
	for _, clause := range fields[1:] {
		e, err := parseClause(p, clause)
		if err != nil {
			errs = append(errs, &ParseError{Source: source, Line: lineNo, Clause: clause, Err: err})
			continue
		}
		e.Source = where
		exports = append(exports, e)
	}
	return exports, errs
}

// parseClause parses "client(opt,opt,...)" or a bare "client".
func parseClause(path, clause string) (*Export, error) {
	host, opts := clause, ""
	if i := strings.IndexByte(clause, '('); i >= 0 {
		if !strings.HasSuffix(clause, ")") {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		host, opts = clause[:i], clause[i+1:len(clause)-1]
	}

	pattern, err := ParseClientPattern(host)
	if err != nil {
		return nil, err
	}

	e := newExport(path, pattern)
	if opts == "" {
		return e, nil
	}
	for _, opt := range strings.Split(opts, ",") {
		if err := applyOption(e, strings.TrimSpace(opt)); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// applyOption applies a single option to e.
func applyOption(e *Export, opt string) error {
	name, value, hasValue := strings.Cut(opt, "=")
	name = strings.ToLower(name)

	if hasValue {
		switch name {
		case "sec":
			flavor, err := auth.ParseFlavor(value)
			if err != nil {
				return err
			}
			e.Sec = flavor
		case "anonuid":
			id, err := parseID(value)
			if err != nil {
				return fmt.Errorf("anonuid: %w", err)
			}
			e.AnonUID = id
		case "anongid":
			id, err := parseID(value)
			if err != nil {
				return fmt.Errorf("anongid: %w", err)
			}
			e.AnonGID = id
		case "lt":
			var types []LayoutType
			for _, s := range strings.Split(value, ":") {
				t, err := ParseLayoutType(s)
				if err != nil {
					return err
				}
				types = append(types, t)
			}
			e.LayoutTypes = types
		default:
			return fmt.Errorf("unsupported option %q", opt)
		}
		return nil
	}

	switch name {
	case "rw":
		e.IOMode = IOModeRW
	case "ro":
		e.IOMode = IOModeRO
	case "root_squash":
		e.RootSquash = true
	case "no_root_squash":
		e.RootSquash = false
	case "all_squash":
		e.AllSquash = true
	case "acl":
		e.CheckACL = true
	case "noacl", "no_acl":
		e.CheckACL = false
	case "dcap":
		e.DCap = true
	case "no_dcap":
		e.DCap = false
	case "all_root":
		e.AllRoot = true
	case "pnfs":
		e.PNFS = true
	case "no_pnfs", "nopnfs":
		e.PNFS = false
	case "secure":
		e.Secure = true
	case "insecure":
		e.Secure = false
	case "":
		// tolerate "rw,,ro" and trailing commas
	default:
		return fmt.Errorf("unsupported option %q", opt)
	}
	return nil
}

// parseID parses a uid/gid, accepting -1 as an alias for the nobody id.
func parseID(s string) (uint32, error) {
	if s == "-1" {
		return auth.NobodyUID, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint32(v), nil
}
