package indicator

import "strings"

type locale string

const (
	localeEnglish locale = "en"
	localeSpanish locale = "es"
	localeChinese locale = "zh"
)

type messages struct {
	listening string
	stopHint  string
	stopped   string
	errorText string
	farewell  string
}

// resolveLocale maps a recognition language code (en-US, es-ES, zh-CN) to a console locale.
func resolveLocale(languageCode string) locale {
	raw := strings.ToLower(strings.TrimSpace(languageCode))
	switch {
	case strings.HasPrefix(raw, "es"):
		return localeSpanish
	case strings.HasPrefix(raw, "zh"):
		return localeChinese
	default:
		return localeEnglish
	}
}

func consoleMessages(tag locale) messages {
	switch tag {
	case localeSpanish:
		return messages{
			listening: "Escuchando... ¡Ya puedes hablar! (Ctrl+C para salir)",
			stopHint:  "Pulsa Enter para detener la voz...",
			stopped:   "Reproducción de voz detenida.",
			errorText: "Error",
			farewell:  "¡Gracias por usar parley!",
		}
	case localeChinese:
		return messages{
			listening: "正在聆听... 现在可以开始说话了！(按 Ctrl+C 退出)",
			stopHint:  "按 Enter 键停止语音播放...",
			stopped:   "语音播放已停止。",
			errorText: "错误",
			farewell:  "感谢使用 parley！",
		}
	case localeEnglish:
		fallthrough
	default:
		return messages{
			listening: "Listening... You can start speaking now! (Press Ctrl+C to stop)",
			stopHint:  "Press Enter to stop the voice playback...",
			stopped:   "Voice playback stopped.",
			errorText: "Error",
			farewell:  "Thank you for using parley!",
		}
	}
}
