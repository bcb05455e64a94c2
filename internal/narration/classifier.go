package narration

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bobarin/blessings/internal/models"
)

// Category groups relations that share template pools.
type Category string

const (
	CategoryElder     Category = "elder"
	CategoryFriend    Category = "friend"
	CategoryColleague Category = "colleague"
	CategoryLover     Category = "lover"
	CategoryJunior    Category = "junior"
	CategoryTeacher   Category = "teacher"
	CategoryClient    Category = "client"
	CategoryGeneral   Category = "general"
)

type categoryKeywords struct {
	category Category
	// substrings matched anywhere in the relation
	chinese []string
	// whole lower-case words
	english []string
}

// Checked in order; the first category with a hit wins.
var relationKeywords = []categoryKeywords{
	{
		category: CategoryElder,
		chinese:  []string{"爸", "妈", "父", "母", "爷", "奶", "外公", "外婆", "姥", "爹", "姑", "姨", "舅", "叔", "伯", "婆婆", "公公", "岳", "长辈", "大爷", "大妈", "阿姨"},
		english:  []string{"mom", "mum", "mother", "dad", "father", "parent", "parents", "grandma", "grandpa", "grandmother", "grandfather", "aunt", "uncle", "elder", "in-law"},
	},
	{
		category: CategoryFriend,
		chinese:  []string{"发小", "朋友", "闺蜜", "兄弟", "哥们", "姐妹", "好友", "室友", "同学", "死党", "伙伴", "基友", "损友", "挚友"},
		english:  []string{"friend", "friends", "bestie", "buddy", "pal", "bro", "roommate", "classmate"},
	},
	{
		category: CategoryColleague,
		chinese:  []string{"同事", "领导", "老板", "同僚", "上司", "下属", "合伙人", "搭档", "总监", "经理", "主管", "CEO"},
		english:  []string{"colleague", "coworker", "boss", "manager", "supervisor", "director", "teammate", "ceo"},
	},
	{
		category: CategoryLover,
		chinese:  []string{"老婆", "老公", "女朋友", "男朋友", "对象", "爱人", "媳妇", "另一半", "女友", "男友", "未婚", "恋人"},
		english:  []string{"wife", "husband", "girlfriend", "boyfriend", "fiance", "fiancee", "spouse", "darling", "sweetheart"},
	},
	{
		category: CategoryJunior,
		chinese:  []string{"儿子", "女儿", "孩子", "侄子", "侄女", "外甥", "宝宝", "闺女", "小朋友", "弟弟", "妹妹", "学生"},
		english:  []string{"son", "daughter", "kid", "child", "nephew", "niece", "baby", "student"},
	},
	{
		category: CategoryTeacher,
		chinese:  []string{"老师", "导师", "教授", "师父", "教练", "师傅"},
		english:  []string{"teacher", "mentor", "professor", "coach", "tutor"},
	},
	{
		category: CategoryClient,
		chinese:  []string{"客户", "甲方", "合作方", "商业伙伴", "合作伙伴"},
		english:  []string{"client", "customer"},
	},
}

// Classify maps a free-form relation to a template category.
func Classify(relation string) Category {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(relation), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	}) {
		words[w] = true
	}

	for _, kw := range relationKeywords {
		for _, k := range kw.chinese {
			if strings.Contains(relation, k) {
				return kw.category
			}
		}
		for _, k := range kw.english {
			if words[k] {
				return kw.category
			}
		}
	}
	return CategoryGeneral
}

var themeRules = []struct {
	pattern *regexp.Regexp
	theme   models.Theme
}{
	{regexp.MustCompile(`父母|爸爸|妈妈|爷爷|奶奶|外公|外婆|长辈|叔叔|阿姨|伯伯`), models.ThemeTraditional},
	{regexp.MustCompile(`女儿|孙女|妹妹|姐姐|闺蜜|女朋友|老婆|妻子|孩子|小朋友|宝宝`), models.ThemeCute},
	{regexp.MustCompile(`同事|老板|领导|客户|合作伙伴|商务|职场|工作`), models.ThemeModern},
	{regexp.MustCompile(`老师|教授|导师|文艺|作家|艺术家|知识分子`), models.ThemeElegant},
	{regexp.MustCompile(`朋友|同学|兄弟|哥们|室友|年轻`), models.ThemeModern},
}

// SuggestTheme picks a visual theme from the relation and background text.
func SuggestTheme(relation, background string) models.Theme {
	text := relation + " " + background
	for _, rule := range themeRules {
		if rule.pattern.MatchString(text) {
			return rule.theme
		}
	}
	return models.ThemeTraditional
}
