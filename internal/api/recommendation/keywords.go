package recommendation

// PredefinedPlayKeywords is the fixed keyword set searched around every
// anchor station.
var PredefinedPlayKeywords = []string{
	"볼링장", "당구장", "탁구장", "스크린야구", "스크린골프", "클라이밍", "실내사격장", "양궁카페",
	"노래방", "코인노래방", "오락실", "VR체험", "롤러스케이트장", "아이스링크", "트램폴린", "실내풋살장",
	"보드게임카페", "방탈출", "만화카페", "영화관", "전시회", "미술관", "박물관", "북카페",
	"고양이카페", "강아지카페", "타로카페", "아쿠아리움", "찜질방",
	"공방", "반지공방", "향수공방", "도자기공방", "가죽공방", "캔들공방", "원데이클래스",
	"쿠킹클래스", "베이킹클래스", "그림카페",
	"인생네컷", "소품샵", "팝업스토어", "플리마켓", "공원", "산책로", "한강공원", "전망대", "야경명소",
	"놀이공원", "동물원", "자전거대여", "카트장",
	"맛집", "디저트카페", "브런치카페", "이자카야", "와인바",
}

// Phrases that return better directory hits than the bare keyword.
var searchPhraseOverrides = map[string]string{
	"방탈출":  "방탈출 카페",
	"반지공방": "반지만들기",
	"소품샵":  "소품샵 구경",
}

// SearchPhrase returns the query suffix used for keyword.
func SearchPhrase(keyword string) string {
	if phrase, ok := searchPhraseOverrides[keyword]; ok {
		return phrase
	}
	return keyword
}
