package process

// Portuguese stopwords used by keyword extraction and summary scoring.
var stopwords = map[string]struct{}{}

func init() {
	words := []string{
		"a", "ao", "aos", "aquela", "aquelas", "aquele", "aqueles", "aquilo", "as", "até",
		"com", "como", "da", "das", "de", "dela", "delas", "dele", "deles", "depois",
		"do", "dos", "e", "ela", "elas", "ele", "eles", "em", "entre", "era",
		"eram", "éramos", "essa", "essas", "esse", "esses", "esta", "estas", "este",
		"esteja", "estejam", "estejamos", "estes", "esteve", "estive", "estivemos",
		"estiver", "estivera", "estiveram", "estiverem", "estivermos", "estou", "eu",
		"foi", "fomos", "for", "fora", "foram", "forem", "formos", "fosse", "fossem",
		"fui", "há", "haja", "hajam", "hajamos", "hão", "havemos", "hei", "houve",
		"houvemos", "houver", "houvera", "houveram", "houverei", "houverem", "houveremos",
		"houveria", "houveriam", "houvermos", "houverá", "houverão", "houveríamos",
		"houvesse", "houvessem", "houvéramos", "houvéssemos", "isso", "isto",
		"já", "lhe", "lhes", "mais", "mas", "me", "mesmo", "meu", "meus", "minha",
		"minhas", "muito", "na", "nas", "nem", "no", "nos", "nós", "nossa", "nossas",
		"nosso", "nossos", "num", "numa", "o", "os", "ou", "para", "pela", "pelas",
		"pelo", "pelos", "por", "qual", "quando", "que", "quem", "são", "se", "seja",
		"sejam", "sejamos", "sem", "será", "serão", "seria", "seriam", "seríamos",
		"seu", "seus", "só", "somos", "sou", "sua", "suas", "também", "te", "tem",
		"tém", "temos", "tenha", "tenham", "tenhamos", "tenho", "terá", "terão",
		"teria", "teriam", "teríamos", "teu", "teus", "teve", "tinha", "tinham",
		"tínhamos", "tive", "tivemos", "tiver", "tivera", "tiveram", "tiverem",
		"tivermos", "tu", "tua", "tuas", "um", "uma", "você", "vocês", "vos",
	}
	for _, w := range words {
		stopwords[w] = struct{}{}
	}
}

func isStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}
