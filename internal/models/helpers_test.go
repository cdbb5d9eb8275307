package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSubject(t *testing.T) {
	assert.Equal(t, "EDIFICIO NUNEZ", NormalizeSubject("  Edificio Núñez "))
	assert.Equal(t, "GARAJE SUR", NormalizeSubject("garaje sur"))
	assert.Equal(t, "", NormalizeSubject("   "))
}

func TestParseChannel(t *testing.T) {
	assert.Equal(t, 12, ParseChannel("Camara 12"))
	assert.Equal(t, 5, ParseChannel("5"))
	// 越界收敛
	assert.Equal(t, 64, ParseChannel("canal 120"))
	assert.Equal(t, 1, ParseChannel("cero 0"))
	// 无数字回退到 1
	assert.Equal(t, 1, ParseChannel("sin canal"))
}

func TestChannelFromText(t *testing.T) {
	assert.Equal(t, 7, ChannelFromText("falla en camara 7 desde anoche"))
	assert.Equal(t, 23, ChannelFromText("CH-23 offline"))
	assert.Equal(t, 3, ChannelFromText("canal: 3"))
	// 无前缀时取第一个数字
	assert.Equal(t, 15, ChannelFromText("equipo 15 con cortes"))
	assert.Equal(t, 0, ChannelFromText("sin datos"))
	assert.Equal(t, 0, ChannelFromText(""))
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatElapsed(0))
	assert.Equal(t, "00:25:00", FormatElapsed(25*time.Minute))
	assert.Equal(t, "13:01:05", FormatElapsed(13*time.Hour+time.Minute+5*time.Second))
	// 负值按 0 处理
	assert.Equal(t, "00:00:00", FormatElapsed(-time.Minute))
}

func TestNewTanda_Defaults(t *testing.T) {
	ta := NewTanda("Edificio Centro")

	assert.NotEmpty(t, ta.ID)
	assert.Equal(t, "Edificio Centro", ta.Subject)
	assert.Len(t, ta.Cameras, 1)
	assert.Equal(t, 1, ta.Cameras[0].Channel)
	assert.False(t, ta.Cameras[0].Touched)
	assert.False(t, ta.Checklist.Answered())
	assert.Len(t, ta.Checklist.RecordingsFailing, 4)
}

func TestTandaComplete(t *testing.T) {
	ta := NewTanda("Cliente")
	assert.False(t, ta.Complete())

	ta.Cameras[0].Status = StatusOK
	ta.Cameras[0].Touched = true
	assert.False(t, ta.Complete(), "清单未回答完")

	yes, no := true, false
	ta.Checklist.RecordingsOK = &yes
	ta.Checklist.PowerCutsDetected = &no
	ta.Checklist.DeviceOffline = &no
	ta.Checklist.DeviceClockOK = &yes
	assert.True(t, ta.Complete())
}

func TestRoundSubjectKeys(t *testing.T) {
	r := NewRound("Bruno", "Night")
	r.Tandas = []*Tanda{
		NewTanda("Edificio Núñez"),
		NewTanda("edificio nuñez"), // 归一化后重复
		NewTanda("Garaje Sur"),
		NewTanda(""),
	}

	keys := r.SubjectKeys()
	assert.Equal(t, []string{"EDIFICIO NUNEZ", "GARAJE SUR"}, keys)
}
