package utils

// Server-side messages only: the health text and error messages keyed by
// service error code ("error.<code>").
var translations = map[string]map[string]string{
	"en": {
		"health.ok":                "ok",
		"health.draining":          "shutting down",
		"error.invalid":            "invalid request",
		"error.unauthorized":       "authentication required",
		"error.not_authorized":     "not authorized",
		"error.not_found":          "not found",
		"error.already_registered": "already registered",
		"error.not_registered":     "not a registered participant",
		"error.capacity_exceeded":  "participant capacity reached",
		"error.session_closed":     "session is ended",
		"error.already_ended":      "session already ended",
		"error.session_expired":    "session deadline has passed",
		"error.no_proposals":       "session has no proposals",
		"error.internal":           "internal error",
	},
	"zh": {
		"health.ok":                "好的",
		"health.draining":          "正在关闭",
		"error.invalid":            "请求无效",
		"error.unauthorized":       "需要登录",
		"error.not_authorized":     "无权执行此操作",
		"error.not_found":          "未找到",
		"error.already_registered": "已注册",
		"error.not_registered":     "不是已注册的参与者",
		"error.capacity_exceeded":  "参与者已满",
		"error.session_closed":     "会话已结束",
		"error.already_ended":      "会话已经结束",
		"error.session_expired":    "会话已过截止时间",
		"error.no_proposals":       "会话没有任何报价",
		"error.internal":           "内部错误",
	},
}

// T returns the translated string for key in locale; falls back to English,
// then to the key itself.
func T(locale, key string) string {
	if v, ok := translations[locale][key]; ok {
		return v
	}
	if v, ok := translations["en"][key]; ok {
		return v
	}
	return key
}
