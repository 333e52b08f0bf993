package mention

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantEveryone bool
		wantHandles  []string
	}{
		{"plain text", "hello there", false, nil},
		{"single handle", "hi @sam", false, []string{"sam"}},
		{"start of body", "@sam look", false, []string{"sam"}},
		{"dots and hyphens", "ping @mary-jane.w now", false, []string{"mary-jane.w"}},
		{"trailing punctuation", "thanks @sam.", false, []string{"sam"}},
		{"case folded and deduplicated", "@Sam @sam @SAM", false, []string{"sam"}},
		{"everyone", "heads up @all", true, nil},
		{"everyone with handles", "@all and @sam", true, []string{"sam"}},
		{"allison is not all", "hi @allison", false, []string{"allison"}},
		{"email address ignored", "mail me at sam@example.com", false, nil},
		{"bare at sign", "meet @ noon", false, nil},
		{"order preserved", "@b then @a", false, []string{"b", "a"}},
		{"after punctuation", "(@sam)", false, []string{"sam"}},
		{"accented handle", "merci @josé!", false, []string{"josé"}},
		{"non-latin handle", "привет @Дима и @沙织", false, []string{"дима", "沙织"}},
		{"underscore and digits", "@sam_2 ok", false, []string{"sam_2"}},
		{"email after non-ascii letter", "write to josé@example.com", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Parse(tt.body)
			assert.Equal(t, tt.wantEveryone, p.Everyone)
			assert.Equal(t, tt.wantHandles, p.Handles)
		})
	}
}

func TestResolve_EveryoneReturnsMembersMinusSender(t *testing.T) {
	sender, a, b := uuid.New(), uuid.New(), uuid.New()
	members := []uuid.UUID{sender, a, b}

	got := Resolve("@all standup in 5", sender, members, nil)

	assert.ElementsMatch(t, []uuid.UUID{a, b}, got.Slice())
	assert.False(t, got.Has(sender))
}

func TestResolve_EveryoneIgnoresHandles(t *testing.T) {
	sender, a := uuid.New(), uuid.New()
	outsider := uuid.New()
	dir := map[string]uuid.UUID{"outsider": outsider}

	got := Resolve("@all @outsider", sender, []uuid.UUID{sender, a}, dir)

	assert.ElementsMatch(t, []uuid.UUID{a}, got.Slice())
}

func TestResolve_Handles(t *testing.T) {
	sender, sam, kim, outsider := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	members := []uuid.UUID{sender, sam, kim}
	dir := map[string]uuid.UUID{
		"sam":      sam,
		"kim":      kim,
		"outsider": outsider,
		"me":       sender,
	}

	tests := []struct {
		name string
		body string
		want []uuid.UUID
	}{
		{"member included", "hey @sam", []uuid.UUID{sam}},
		{"two members", "@sam @kim", []uuid.UUID{sam, kim}},
		{"non-member excluded", "@outsider", []uuid.UUID{}},
		{"unknown handle excluded", "@ghost", []uuid.UUID{}},
		{"sender excluded", "note to @me", []uuid.UUID{}},
		{"mixed", "@sam @ghost @outsider", []uuid.UUID{sam}},
		{"no mentions", "just text", []uuid.UUID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.body, sender, members, dir)
			assert.ElementsMatch(t, tt.want, got.Slice())
		})
	}
}

func TestResolve_IsPure(t *testing.T) {
	sender, sam := uuid.New(), uuid.New()
	members := []uuid.UUID{sender, sam}
	dir := map[string]uuid.UUID{"sam": sam}

	first := Resolve("@sam", sender, members, dir)
	second := Resolve("@sam", sender, members, dir)

	assert.Equal(t, first, second)
	assert.Len(t, members, 2)
	assert.Len(t, dir, 1)
}
