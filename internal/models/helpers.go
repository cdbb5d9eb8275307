package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MaxChannel 单客户组可选的最大通道号
const MaxChannel = 64

// 西语客户名里常见的重音字符 → ASCII
var diacriticReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"Á", "A", "É", "E", "Í", "I", "Ó", "O", "Ú", "U", "Ü", "U", "Ñ", "N",
)

// NormalizeSubject 归一化客户名作为索引键：去重音、去首尾空白、大写
func NormalizeSubject(name string) string {
	return strings.ToUpper(strings.TrimSpace(diacriticReplacer.Replace(name)))
}

var channelDigits = regexp.MustCompile(`\d+`)

// ParseChannel 从任意文本解析通道号（"12"、"Camara 12" 等），并收敛到 [1, MaxChannel]
func ParseChannel(s string) int {
	m := channelDigits.FindString(s)
	if m == "" {
		return 1
	}
	var n int
	fmt.Sscanf(m, "%d", &n)
	return ClampChannel(n)
}

// ClampChannel 收敛通道号到 [1, MaxChannel]
func ClampChannel(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxChannel {
		return MaxChannel
	}
	return n
}

var notationChannel = regexp.MustCompile(`(?i)(?:cam(?:ara)?|canal|ch(?:annel)?)[^\d]*(\d{1,3})`)
var anyNumber = regexp.MustCompile(`\d{1,3}`)

// ChannelFromText 从手工记录文本里提取通道号；提取不到返回 0
func ChannelFromText(text string) int {
	if text == "" {
		return 0
	}
	if m := notationChannel.FindStringSubmatch(text); m != nil {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		return n
	}
	if m := anyNumber.FindString(text); m != "" {
		var n int
		fmt.Sscanf(m, "%d", &n)
		return n
	}
	return 0
}

// FormatElapsed 格式化时长为 "HH:MM:SS"
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}
