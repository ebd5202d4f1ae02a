package protect

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FormatHint 还原时的格式转换提示
type FormatHint string

// 格式提示常量
const (
	FormatNone    FormatHint = "NONE"
	FormatDateDMY FormatHint = "DATE_DMY"
	FormatDateMDY FormatHint = "DATE_MDY"
	FormatDateYMD FormatHint = "DATE_YMD"
	FormatPhone   FormatHint = "PHONE"
	FormatName    FormatHint = "NAME"
)

// DateOrder 日期分量顺序
type DateOrder string

// 日期顺序常量
const (
	DateOrderKeep DateOrder = ""
	DateOrderDMY  DateOrder = "DMY"
	DateOrderMDY  DateOrder = "MDY"
	DateOrderYMD  DateOrder = "YMD"
)

// dateHint 源日期顺序对应的格式提示
func dateHint(order DateOrder) FormatHint {
	switch order {
	case DateOrderMDY:
		return FormatDateMDY
	case DateOrderYMD:
		return FormatDateYMD
	default:
		return FormatDateDMY
	}
}

// IsDate 是否为日期提示
func (h FormatHint) IsDate() bool {
	return h == FormatDateDMY || h == FormatDateMDY || h == FormatDateYMD
}

// 日期分量键
const (
	componentDay   = "day"
	componentMonth = "month"
	componentYear  = "year"
	componentSep   = "sep"
)

// parseDateComponents 按提示拆分数值日期。无法解析时返回 false，值保持原样。
func parseDateComponents(value string, hint FormatHint) (map[string]string, bool) {
	sepIdx := strings.IndexFunc(value, func(r rune) bool { return !unicode.IsDigit(r) })
	if sepIdx <= 0 {
		return nil, false
	}
	sep := value[sepIdx : sepIdx+1]
	if sep != "/" && sep != "-" && sep != "." {
		return nil, false
	}
	parts := strings.Split(value, sep)
	if len(parts) != 3 {
		return nil, false
	}
	for _, p := range parts {
		if p == "" || strings.IndexFunc(p, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			return nil, false
		}
	}

	var day, month, year string
	switch hint {
	case FormatDateDMY:
		day, month, year = parts[0], parts[1], parts[2]
	case FormatDateMDY:
		month, day, year = parts[0], parts[1], parts[2]
	case FormatDateYMD:
		year, month, day = parts[0], parts[1], parts[2]
	default:
		return nil, false
	}
	if !inRange(day, 1, 31) || !inRange(month, 1, 12) || (len(year) != 2 && len(year) != 4) {
		return nil, false
	}
	return map[string]string{
		componentDay:   day,
		componentMonth: month,
		componentYear:  year,
		componentSep:   sep,
	}, true
}

func inRange(s string, lo, hi int) bool {
	if len(s) == 0 || len(s) > 2 {
		return false
	}
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n >= lo && n <= hi
}

// formatDate 按目标顺序重排日期分量，分量本身保持原样（包括前导零）
func formatDate(c map[string]string, order DateOrder) (string, bool) {
	day, month, year, sep := c[componentDay], c[componentMonth], c[componentYear], c[componentSep]
	if day == "" || month == "" || year == "" || sep == "" {
		return "", false
	}
	switch order {
	case DateOrderDMY:
		return day + sep + month + sep + year, true
	case DateOrderMDY:
		return month + sep + day + sep + year, true
	case DateOrderYMD:
		return year + sep + month + sep + day, true
	}
	return "", false
}

// formatPhone 用新的分隔符重新连接号码分组；没有分组时原样返回
func formatPhone(value, sep string) string {
	groups := strings.FieldsFunc(value, func(r rune) bool {
		return r != '+' && (r < '0' || r > '9')
	})
	if len(groups) < 2 {
		return value
	}
	return strings.Join(groups, sep)
}

// formatName 姓名首字母大写
func formatName(value string) string {
	return cases.Title(language.Und).String(value)
}
