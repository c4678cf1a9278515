package enricher

import (
	"time"

	"github.com/OpenTransitTools/transitenricher/business/data/gtfs"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
)

//serviceDayCalendar holds the US federal holidays a transit agency runs holiday service on
type serviceDayCalendar struct {
	calendar *cal.BusinessCalendar
	location *time.Location
}

//makeServiceDayCalendar builds serviceDayCalendar for service dates in location
func makeServiceDayCalendar(location *time.Location) *serviceDayCalendar {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(
		us.NewYear,
		us.MlkDay,
		us.PresidentsDay,
		us.MemorialDay,
		us.Juneteenth,
		us.IndependenceDay,
		us.LaborDay,
		us.ThanksgivingDay,
		us.ChristmasDay,
	)
	return &serviceDayCalendar{calendar: calendar, location: location}
}

//isHoliday returns true if the YYYYMMDD serviceDate is an observed holiday, false if it's not or can't be parsed
func (s *serviceDayCalendar) isHoliday(serviceDate string) bool {
	date, err := gtfs.ParseServiceDate(serviceDate, s.location)
	if err != nil {
		return false
	}
	_, observed, _ := s.calendar.IsHoliday(date)
	return observed
}
