package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPathEnv = "CONFIG_FILE"

var durationType = reflect.TypeOf(time.Duration(0))

// MissingError lists required settings that ended up empty.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return "config: missing required " + strings.Join(e.Keys, ", ")
}

// LoadConfig hydrates the struct pointed to by target in three layers:
// `default:"..."` tags, then the optional YAML file named by CONFIG_FILE, then
// environment variables. Env keys come from `env:"KEY"` tags or are derived as
// PARENT_CHILD. Fields tagged `required:"true"` must be non-zero afterwards.
func LoadConfig(target interface{}) error {
	root, err := structValue(target)
	if err != nil {
		return err
	}

	if err := walk(root, "", applyDefault); err != nil {
		return err
	}
	if path := os.Getenv(defaultConfigPathEnv); path != "" {
		if err := LoadFile(path, target); err != nil {
			return err
		}
	}
	if err := walk(root, "", applyEnv); err != nil {
		return err
	}

	var missing []string
	_ = walk(root, "", func(field reflect.Value, meta reflect.StructField, key string) error {
		if meta.Tag.Get("required") == "true" && field.IsZero() {
			missing = append(missing, key)
		}
		return nil
	})
	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}
	return nil
}

// LoadFile decodes a YAML document into target without touching the environment.
func LoadFile(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read file: %w", err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("config: decode yaml %s: %w", path, err)
	}
	return nil
}

func structValue(target interface{}) (reflect.Value, error) {
	if target == nil {
		return reflect.Value{}, errors.New("config: target is nil")
	}
	val := reflect.ValueOf(target)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, errors.New("config: target must be pointer to struct")
	}
	return val.Elem(), nil
}

type visitFunc func(field reflect.Value, meta reflect.StructField, envKey string) error

// walk calls fn for every settable leaf field with its environment key.
func walk(v reflect.Value, prefix string, fn visitFunc) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field, meta := v.Field(i), t.Field(i)
		if !field.CanSet() {
			continue
		}
		if meta.Anonymous && field.Kind() == reflect.Struct {
			if err := walk(field, prefix, fn); err != nil {
				return err
			}
			continue
		}

		tag := meta.Tag.Get("env")
		if tag == "-" {
			continue
		}
		key := envKey(prefix, meta.Name)
		if tag != "" {
			key = envKey("", tag)
		}

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := walk(field, key, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(field, meta, key); err != nil {
			return err
		}
	}
	return nil
}

func applyDefault(field reflect.Value, meta reflect.StructField, key string) error {
	def, ok := meta.Tag.Lookup("default")
	if !ok {
		return nil
	}
	if err := assign(field, def); err != nil {
		return fmt.Errorf("config: default for %s: %w", key, err)
	}
	return nil
}

func applyEnv(field reflect.Value, _ reflect.StructField, key string) error {
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	if err := assign(field, val); err != nil {
		return fmt.Errorf("config: parse %s: %w", key, err)
	}
	return nil
}

func envKey(prefix, name string) string {
	name = strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

func assign(field reflect.Value, value string) error {
	value = strings.TrimSpace(value)
	if field.Type() == durationType {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(parsed))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(parsed)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parsed, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(parsed)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		parsed, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(parsed)
	case reflect.Float32, reflect.Float64:
		parsed, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(parsed)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		out := reflect.MakeSlice(field.Type(), 0, 4)
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = reflect.Append(out, reflect.ValueOf(p).Convert(field.Type().Elem()))
			}
		}
		field.Set(out)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
