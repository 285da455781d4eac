// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidOrderNumber проверяет корректность номера заказа по алгоритму Луна.
func IsValidOrderNumber(number string) bool {
	if number == "" {
		return false
	}

	sum, ok := luhnSum(number, false)
	if !ok {
		return false
	}

	return sum%10 == 0
}

// CheckDigit вычисляет контрольную цифру Луна, которую нужно дописать к номеру.
func CheckDigit(number string) (byte, bool) {
	if number == "" {
		return 0, false
	}

	sum, ok := luhnSum(number, true)
	if !ok {
		return 0, false
	}

	return byte('0' + (10-sum%10)%10), true
}

func luhnSum(number string, double bool) (int, bool) {
	sum := 0

	for i := len(number) - 1; i >= 0; i-- {
		ch := rune(number[i])
		if !unicode.IsDigit(ch) {
			return 0, false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum, true
}
