package ticket

import (
	"fmt"
	"strings"
)

// Code возвращает префикс талона: первые три символа названия отделения в верхнем регистре.
func Code(department string) string {
	r := []rune(strings.TrimSpace(department))
	if len(r) > 3 {
		r = r[:3]
	}
	return strings.ToUpper(string(r))
}

// Number формирует номер следующего талона, например LAB-001.
// issued: сколько талонов отделение уже выдало за день. Ширина 3 задаёт минимум, 1000 печатается как есть.
func Number(code string, issued int64) string {
	return fmt.Sprintf("%s-%03d", code, issued+1)
}

// Normalize приводит введённый номер талона к каноническому виду для поиска.
func Normalize(number string) string {
	return strings.ToUpper(strings.TrimSpace(number))
}
