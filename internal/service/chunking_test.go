package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSentences(t *testing.T) {
	t.Run("keeps decimals inside a sentence", func(t *testing.T) {
		got := splitSentences("HBM 매출은 1.05조원을 기록했다. 전년 대비 크게 늘었다.")
		assert.Equal(t, []string{"HBM 매출은 1.05조원을 기록했다.", "전년 대비 크게 늘었다."}, got)
	})

	t.Run("breaks on line endings and ideographic full stop", func(t *testing.T) {
		got := splitSentences("첫 번째 줄입니다\n두 번째 문장。세 번째 문장!")
		assert.Equal(t, []string{"첫 번째 줄입니다", "두 번째 문장。", "세 번째 문장!"}, got)
	})

	t.Run("groups repeated punctuation", func(t *testing.T) {
		got := splitSentences("Really?! Yes.")
		assert.Equal(t, []string{"Really?!", "Yes."}, got)
	})
}

func TestMergeShortSentences(t *testing.T) {
	got := mergeShortSentences([]string{"짧다.", "이 문장은 충분히 길어서 그대로 남는다.", "끝."}, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "짧다. 이 문장은 충분히 길어서 그대로 남는다. 끝.", got[0])

	single := mergeShortSentences([]string{"짧다."}, 10)
	assert.Equal(t, []string{"짧다."}, single)
}

func TestGroupSentences(t *testing.T) {
	s := []string{"a", "b", "c", "d"}
	groups := groupSentences(s, 3)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"a", "b", "c", "d"}, groups[0])

	s = []string{"a", "b", "c", "d", "e"}
	groups = groupSentences(s, 3)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"a", "b", "c"}, groups[0])
	assert.Equal(t, []string{"d", "e"}, groups[1])

	// the input slice is not modified by merging
	s = []string{"a", "b", "c", "d", "e", "f", "g"}
	groups = groupSentences(s, 3)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"d", "e", "f", "g"}, groups[1])
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, s)
}

func TestPlanChunks(t *testing.T) {
	text := "삼성전자는 2분기 HBM 매출이 크게 증가했다고 밝혔다. " +
		"회사는 하반기 HBM3E 공급 확대를 예상한다. " +
		"연간 HBM 매출은 1조원 달성이 예상된다.\r\n\r\n" +
		"파운드리 부문은 적자가 지속되었다."

	plan := PlanChunks(text, DefaultChunkConfig())
	require.Len(t, plan, 2)

	assert.Len(t, plan[0].Details, 3)
	assert.Equal(t, plan[0].Details[0]+" "+plan[0].Details[1]+" "+plan[0].Details[2], plan[0].Content)

	assert.Equal(t, "파운드리 부문은 적자가 지속되었다.", plan[1].Content)
	assert.Empty(t, plan[1].Details, "single-sentence summary has no details")
}

func TestPlanChunks_Empty(t *testing.T) {
	assert.Empty(t, PlanChunks("   \n\n  ", DefaultChunkConfig()))
}

func TestPlanChunks_LongDocumentIsFullyCovered(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&sb, "Paragraph %d reports quarterly revenue growth.\n\n", i)
	}

	plan := PlanChunks(sb.String(), DefaultChunkConfig())

	require.Len(t, plan, 500)
	assert.Equal(t, "Paragraph 0 reports quarterly revenue growth.", plan[0].Content)
	assert.Equal(t, "Paragraph 499 reports quarterly revenue growth.", plan[499].Content)
}
