package parsing

import "fmt"

// EmptyInputError is returned when the raw label text contains no letter or
// digit at all. It is the only input the normalizer rejects outright.
type EmptyInputError struct {
	Field string
}

func (e *EmptyInputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("empty input: %s has no extractable content", e.Field)
	}
	return "empty input: no extractable content"
}
