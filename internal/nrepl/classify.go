package nrepl

// EnvType is the detected runtime flavor behind a target. It decides which
// follow-up expressions are safe to evaluate for introspection.
type EnvType string

const (
	EnvClj      EnvType = "clj"
	EnvBabashka EnvType = "bb"
	EnvBasilisp EnvType = "basilisp"
	EnvScittle  EnvType = "scittle"
	EnvShadow   EnvType = "shadow"
	EnvUnknown  EnvType = "unknown"
)

// versionPrecedence maps describe version keys to runtime flavors. The first
// key present wins: babashka and basilisp also report a clojure version, so
// the more specific keys must be consulted first.
var versionPrecedence = []struct {
	key string
	env EnvType
}{
	{"babashka", EnvBabashka},
	{"scittle", EnvScittle},
	{"basilisp", EnvBasilisp},
	{"shadow-cljs", EnvShadow},
	{"clojure", EnvClj},
}

// shadowUserNS is the default namespace a shadow-cljs server reports for a
// sessionless eval. shadow-cljs is indistinguishable from plain Clojure at
// the describe level, so the namespace probe overrides describe.
const shadowUserNS = "shadow.user"

// DetectEnv classifies the runtime flavor of the server behind c: first by
// the describe version table, then by the shadow namespace probe, whose
// verdict wins. The probe is best-effort; its failure keeps the describe
// result.
func DetectEnv(c *Conn) (EnvType, error) {
	desc, err := c.Describe()
	if err != nil {
		return EnvUnknown, err
	}
	env := classifyVersions(desc.GetMap("versions"))

	if ns, err := probeDefaultNS(c.Target()); err == nil && ns == shadowUserNS {
		env = EnvShadow
	}
	return env, nil
}

func classifyVersions(versions map[string]any) EnvType {
	if versions == nil {
		return EnvUnknown
	}
	for _, p := range versionPrecedence {
		if _, ok := versions[p.key]; ok {
			return p.env
		}
	}
	return EnvUnknown
}

// probeDefaultNS evaluates a trivial expression without a session, over its
// own short-lived connection, and returns the namespace the server reports.
func probeDefaultNS(t Target) (string, error) {
	c, err := Dial(t.Host, t.Port, OpTimeout)
	if err != nil {
		return "", err
	}
	defer c.Close()

	resp, err := c.roundTrip("eval", Message{"code": "nil"})
	if err != nil {
		return "", err
	}
	return resp.GetString("ns"), nil
}
