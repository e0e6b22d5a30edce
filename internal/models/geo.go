package models

import "math"

// EarthRadiusMeters 地球平均半径（与 SQL 中的 haversine 保持一致）
const EarthRadiusMeters = 6371000.0

// Point 经纬度坐标
type Point struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Valid 坐标是否在合法范围内
func (p Point) Valid() bool {
	if math.IsNaN(p.Longitude) || math.IsNaN(p.Latitude) {
		return false
	}
	return p.Longitude >= -180 && p.Longitude <= 180 &&
		p.Latitude >= -90 && p.Latitude <= 90
}

// DistanceMeters haversine 大圆距离
func (p Point) DistanceMeters(o Point) float64 {
	lat1 := p.Latitude * math.Pi / 180
	lat2 := o.Latitude * math.Pi / 180
	dLat := (o.Latitude - p.Latitude) * math.Pi / 180
	dLon := (o.Longitude - p.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}
