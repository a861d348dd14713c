// Package config - Loads the sectioned training/inference configuration file.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// Section names recognised in a configuration file.
const (
	SectionCommon     = "Common"
	SectionDataSet    = "DataSet"
	SectionNet        = "Net"
	SectionSolver     = "Solver"
	SectionBoxEncoder = "BoxEncoder"
)

// Params holds every recognised section of a configuration file.
type Params struct {
	// Common holds options shared by the dataset, network and solver.
	Common Section
	// DataSet holds the options of the batch supplier.
	DataSet Section
	// Net holds the options of the network.
	Net Section
	// Solver holds the options of the training loop.
	Solver Section
	// BoxEncoder holds the optional label encoding options.
	BoxEncoder Section
	// IsPredict is true when Common.is_predict is exactly "True".
	IsPredict bool
}

// HasBoxEncoder reports whether the BoxEncoder section carried any options.
func (p *Params) HasBoxEncoder() bool {
	return len(p.BoxEncoder) > 0
}

// ForPredict switches p to single-image prediction, as if the file had
// is_predict=True.
func (p *Params) ForPredict() {
	if p.Common == nil {
		p.Common = Section{}
	}
	p.IsPredict = true
	p.Common["is_predict"] = "True"
	p.Common["batch_size"] = "1"
}

// EnvPrefix prefixes the environment variables that override file options,
// e.g. YOLOU_SOLVER_LR overrides lr in the Solver section.
const EnvPrefix = "YOLOU"

// Load reads the INI configuration file at path and splits it into the
// Common, DataSet, Net, Solver and BoxEncoder sections.
//
// The file follows Python ConfigParser rules. Option names are lower-cased,
// # and ; only start comments at the beginning of a line, indented lines
// continue the previous value, DEFAULT options are inherited by every section
// and %(name)s references are expanded. Section names are matched without
// regard to case and unknown sections are ignored.
//
// When Common.is_predict is "True" the returned Params has IsPredict set and
// Common.batch_size forced to "1".
//
// Arguments:
//   - path: Path to the configuration file.
//
// Returns:
//   - *Params: The parsed sections.
//   - error: An error if the file cannot be read or parsed.
func Load(path string) (*Params, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "config file %q", path)
	}

	file, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:            true,
		IgnoreInlineComment:        true,
		AllowPythonMultilineValues: true,
		IgnoreContinuation:         true,
		PreserveSurroundedQuote:    true,
	}, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %q", path)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	params := &Params{}
	for name, dst := range map[string]*Section{
		SectionCommon:     &params.Common,
		SectionDataSet:    &params.DataSet,
		SectionNet:        &params.Net,
		SectionSolver:     &params.Solver,
		SectionBoxEncoder: &params.BoxEncoder,
	} {
		if *dst, err = section(file, v, name); err != nil {
			return nil, err
		}
	}

	if value, ok := params.Common["is_predict"]; ok {
		if value == "True" {
			params.IsPredict = true
			params.Common["batch_size"] = "1"
		} else {
			params.IsPredict = false
		}
	}

	return params, nil
}

// section copies the options of the named section, DEFAULT options included.
// A missing section yields an empty Section.
func section(file *ini.File, v *viper.Viper, name string) (Section, error) {
	out := Section{}
	var sec *ini.Section
	for _, candidate := range file.Sections() {
		if candidate.Name() != ini.DefaultSection && strings.EqualFold(candidate.Name(), name) {
			sec = candidate
			break
		}
	}
	if sec == nil {
		return out, nil
	}

	// Inherited options interpolate against sec, as its own do.
	for _, key := range file.Section(ini.DefaultSection).Keys() {
		if sec.HasKey(key.Name()) {
			continue
		}
		if _, err := sec.NewKey(key.Name(), key.Value()); err != nil {
			return nil, errors.Wrapf(err, "inherit %q into [%s]", key.Name(), sec.Name())
		}
	}

	for _, key := range sec.Keys() {
		envKey := strings.ToLower(name) + "." + key.Name()
		v.SetDefault(envKey, unfold(key.String()))
		out[key.Name()] = v.GetString(envKey)
	}
	return out, nil
}

// unfold strips the indentation of continuation lines and unescapes %%.
func unfold(value string) string {
	lines := strings.Split(value, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.ReplaceAll(strings.Join(lines, "\n"), "%%", "%")
}
