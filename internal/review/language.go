package review

import "unicode"

// Language selects the language of prompts and narration.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageChinese Language = "zh"
)

// chineseRatio is the share of Han characters among letters above which a
// text is considered Chinese.
const chineseRatio = 0.3

// DetectLanguage returns LanguageChinese when more than 30% of the letters in
// texts are Han characters, LanguageEnglish otherwise.
func DetectLanguage(texts ...string) Language {
	var han, letters int
	for _, text := range texts {
		for _, r := range text {
			switch {
			case unicode.Is(unicode.Han, r):
				han++
				letters++
			case r < unicode.MaxASCII && unicode.IsLetter(r):
				letters++
			}
		}
	}
	if letters == 0 {
		return LanguageEnglish
	}
	if float64(han)/float64(letters) > chineseRatio {
		return LanguageChinese
	}
	return LanguageEnglish
}

// Pick returns zh for Chinese and en otherwise.
func (l Language) Pick(en, zh string) string {
	if l == LanguageChinese {
		return zh
	}
	return en
}
