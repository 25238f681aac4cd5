package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// envPrefix is prepended to every env tag, so `env:"SERVER_ADDR"` reads STARKIT_SERVER_ADDR.
const envPrefix = "STARKIT"

var durationType = reflect.TypeOf(time.Duration(0))

// lookupFunc mirrors os.LookupEnv so tests can feed their own environment.
type lookupFunc func(string) (string, bool)

// loadFromEnv overlays STARKIT_* environment variables onto cfg.
func loadFromEnv(cfg *Config) error {
	return loadEnvInto(cfg, envPrefix, os.LookupEnv)
}

func loadEnvInto(v interface{}, prefix string, lookup lookupFunc) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("expected pointer to struct, got %T", v)
	}
	return walkEnv(val.Elem(), prefix, lookup)
}

func walkEnv(val reflect.Value, prefix string, lookup lookupFunc) error {
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		sf := typ.Field(i)

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := walkEnv(field, prefix, lookup); err != nil {
				return err
			}
			continue
		}

		tag := sf.Tag.Get("env")
		if tag == "" {
			continue
		}
		name, rule, _ := strings.Cut(tag, ",")
		envVar := prefix + "_" + name

		raw, ok := lookup(envVar)
		if !ok || raw == "" {
			continue
		}
		if err := setFieldValue(field, raw, rule); err != nil {
			return fmt.Errorf("%s: %w", envVar, err)
		}
	}
	return nil
}

// setFieldValue parses raw into field. rule is the optional tag suffix:
// "tz" requires an IANA zone name, "positive" requires an integer above zero.
func setFieldValue(field reflect.Value, raw, rule string) error {
	if !field.CanSet() {
		return fmt.Errorf("field is not settable")
	}

	switch field.Kind() {
	case reflect.String:
		if rule == "tz" {
			if _, err := time.LoadLocation(raw); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", raw, err)
			}
		}
		field.SetString(raw)

	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %s", raw)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int64:
		var n int64
		if field.Type() == durationType {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", raw)
			}
			n = int64(d)
		} else {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %s", raw)
			}
			n = parsed
		}
		if rule == "positive" && n <= 0 {
			return fmt.Errorf("must be positive, got %s", raw)
		}
		field.SetInt(n)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		field.Set(reflect.ValueOf(items).Convert(field.Type()))

	case reflect.Map:
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported map type: %s", field.Type())
		}
		// key=value,key2=value2
		m := reflect.MakeMap(field.Type())
		for _, pair := range strings.Split(raw, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid map entry: %s", pair)
			}
			m.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(v))
		}
		field.Set(m)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}
