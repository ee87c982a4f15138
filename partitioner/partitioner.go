// Package partitioner splits exported rows into partition paths like
// `year=2022/month=12`.
package partitioner

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

type (
	PartitionPlan struct {
		Func string   `json:"func" validate:"required"`
		Args []string `json:"args"`
		As   string   `json:"as" validate:"required"`
	}

	PartitionFunc func(row map[string]any, args []string) (string, error)
)

var (
	Functions = make(map[string]PartitionFunc)

	registerOnce sync.Once

	ErrFuncNotFound = errors.New("partition function not found")

	ErrMissingArgs       = errors.New("missing args")
	ErrMissingColumns    = errors.New("missing one or more columns specified in args")
	ErrInvalidColumnType = errors.New("invalid column type")
)

// RegisterFunctions fills Functions. Safe to call more than once.
func RegisterFunctions() {
	registerOnce.Do(registerFunctions)
}

func registerFunctions() {
	timeFunc := func(f func(t time.Time) string) PartitionFunc {
		return func(row map[string]any, args []string) (string, error) {
			t, err := parseTimeFunc(row, args)
			if err != nil {
				return "", fmt.Errorf("error in parseTimeFunc: %w", err)
			}
			return f(t), nil
		}
	}

	Functions["toDay"] = timeFunc(func(t time.Time) string {
		return fmt.Sprint(t.Day())
	})
	Functions["toMonth"] = timeFunc(func(t time.Time) string {
		return fmt.Sprint(int(t.Month()))
	})
	Functions["toYear"] = timeFunc(func(t time.Time) string {
		return fmt.Sprint(t.Year())
	})
	Functions["toYearDay"] = timeFunc(func(t time.Time) string {
		return fmt.Sprint(t.YearDay())
	})
	Functions["toYearWeek"] = timeFunc(func(t time.Time) string {
		_, week := t.ISOWeek()
		return fmt.Sprint(week)
	})
	Functions["toWeekDay"] = timeFunc(func(t time.Time) string {
		return t.Weekday().String()
	})
	// identity partitions on the raw value of a column, NULL as `null`
	Functions["identity"] = func(row map[string]any, args []string) (string, error) {
		if len(args) == 0 {
			return "", ErrMissingArgs
		}
		value, exists := row[args[0]]
		if !exists || value == nil {
			return "null", nil
		}
		switch v := value.(type) {
		case string:
			if strings.Contains(v, "/") {
				return "", fmt.Errorf("%w: partition value %q contains a slash", ErrInvalidColumnType, v)
			}
			return v, nil
		case int32, int64, bool:
			return fmt.Sprint(v), nil
		default:
			return "", ErrInvalidColumnType
		}
	}
}

// GetRowPartition joins the result of every plan as `as=value`. No plans give
// the empty partition.
func GetRowPartition(row map[string]any, partitioners []PartitionPlan) (string, error) {
	var finalParts []string
	for _, partFunc := range partitioners {
		f, ok := Functions[partFunc.Func]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrFuncNotFound, partFunc.Func)
		}

		s, err := f(row, partFunc.Args)
		if err != nil {
			return "", fmt.Errorf("error processing partition function %s: %w", partFunc.Func, err)
		}
		finalParts = append(finalParts, fmt.Sprintf("%s=%s", partFunc.As, s))
	}
	return strings.Join(finalParts, "/"), nil
}

// parseTimeFunc reads the time in the column named by args[0]: an RFC 3339
// millisecond string or integer unix milliseconds. `now()` is the wall clock.
func parseTimeFunc(row map[string]any, args []string) (t time.Time, err error) {
	if len(args) == 0 {
		err = ErrMissingArgs
		return
	}

	key := args[0]
	if key == "now()" {
		return time.Now().UTC(), nil
	}

	value, exists := row[key]
	if !exists || value == nil {
		err = ErrMissingColumns
		return
	}

	switch v := value.(type) {
	case string:
		// We have a datetime like YYYY-MM-DDTHH:mm:ss.sssZ
		t, err = time.Parse("2006-01-02T15:04:05.000Z", v)
		if err != nil {
			err = fmt.Errorf("error in time.Parse for string: %w", err)
		}
	case int64:
		t = time.UnixMilli(v).UTC()
	case int32:
		t = time.UnixMilli(int64(v)).UTC()
	case float64:
		// JSON numbers
		t = time.UnixMilli(int64(v)).UTC()
	default:
		err = ErrInvalidColumnType
	}
	return
}
