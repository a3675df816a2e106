package service

import (
	"strings"
	"unicode"
)

// CountryWorld — группа сайтов, страну которых определить не удалось.
const CountryWorld = "World"

// Общие домены верхнего уровня, не указывающие на страну.
var genericTLDs = map[string]bool{
	"com": true, "org": true, "net": true, "edu": true, "gov": true,
	"int": true, "mil": true, "info": true, "eu": true, "arpa": true,
}

// GuessCountry определяет код страны сайта для группировки.
// Порядок: явно опубликованная страна (двухбуквенный код), префикс почтового индекса
// (SE-221 00), домен верхнего уровня хоста, иначе World.
func GuessCountry(host, postcode, country string) string {
	if code, ok := countryCode(country); ok {
		return code
	}

	if prefix, _, found := strings.Cut(strings.TrimSpace(postcode), "-"); found {
		if code, ok := countryCode(prefix); ok {
			return code
		}
	}

	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if i := strings.LastIndex(host, "."); i >= 0 {
		tld := host[i+1:]
		if !genericTLDs[tld] {
			if code, ok := countryCode(tld); ok {
				return code
			}
		}
	}
	return CountryWorld
}

// countryCode проверяет, что строка — двухбуквенный код, и возвращает его в верхнем регистре.
func countryCode(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) != 2 {
		return "", false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) || r > unicode.MaxASCII {
			return "", false
		}
	}
	return strings.ToUpper(s), true
}
